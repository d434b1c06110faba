package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rolemint/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the role generation API server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if username == "" {
			username = viper.GetString("server.username")
		}
		if password == "" {
			password = viper.GetString("server.password")
		}

		svc := newServices()
		srv := server.New(svc.data, svc.single, svc.multi, svc.inputDir, username, password)
		return srv.Start(listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("username", "", "Basic auth username (empty disables auth)")
	serveCmd.Flags().String("password", "", "Basic auth password")
}

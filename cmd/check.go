package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the configured model endpoint and credentials work.",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newServices()
		if !svc.llm.TestConnection(context.Background()) {
			return errors.New("connection test failed, check openai.api_key and openai.endpoint")
		}
		fmt.Println("Connected")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

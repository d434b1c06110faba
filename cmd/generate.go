package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate <cluster-id>",
	Short: "Generate a role definition for a single cluster.",
	Long: `Generate a role definition for a single cluster. With --options the
model produces three alternative names (business, technical, hierarchical)
plus a recommendation instead of a single role.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		multi, _ := cmd.Flags().GetBool("options")
		exportFormat, _ := cmd.Flags().GetString("export")

		svc := newServices()
		ctx := context.Background()

		var result any
		var err error
		if multi {
			result, err = svc.multi.Generate(ctx, args[0], force)
		} else {
			result, err = svc.single.Generate(ctx, args[0], force)
		}
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if exportFormat != "" {
			var path string
			if multi {
				path, err = svc.multi.Export(exportFormat)
			} else {
				path, err = svc.single.Export(exportFormat)
			}
			if err != nil {
				return err
			}
			fmt.Println("Exported to " + path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().BoolP("force", "f", false, "Regenerate even if a role was already generated this run")
	generateCmd.Flags().BoolP("options", "o", false, "Generate three named options instead of a single role")
	generateCmd.Flags().String("export", "", "Also export the result (json or csv)")
}

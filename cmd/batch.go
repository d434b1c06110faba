package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rolemint/pkg/roles"
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [cluster-id...]",
	Short: "Generate roles for many clusters under a bounded concurrency gate.",
	Long: `Generate roles for the given cluster ids, or every known cluster with
--all. Failures for individual clusters are logged and skipped; the batch
itself always completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		multi, _ := cmd.Flags().GetBool("options")
		exportFormat, _ := cmd.Flags().GetString("export")

		svc := newServices()
		ctx := context.Background()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		var generated, requested int

		if multi {
			results, err := svc.multi.BatchGenerate(ctx, args, all, limit)
			if err != nil {
				return err
			}
			generated = len(results)
			requested = batchTargetCount(svc, args, all)
			fmt.Fprintln(w, "CLUSTER\tRECOMMENDED\tRISK\t")
			for _, rs := range svc.multi.All() {
				name := ""
				if opt, ok := rs.Option(rs.RecommendedOption); ok {
					name = opt.RoleName
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t\n", rs.ClusterID, name, rs.RiskLevel)
			}
		} else {
			results, err := svc.single.BatchGenerate(ctx, args, all, limit)
			if err != nil {
				return err
			}
			generated = len(results)
			requested = batchTargetCount(svc, args, all)
			fmt.Fprintln(w, "CLUSTER\tROLE\tRISK\t")
			for _, role := range svc.single.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t\n", role.ClusterID, role.RoleName, role.RiskLevel)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nGenerated %d of %d clusters\n", generated, requested)

		if exportFormat != "" {
			var path string
			var err error
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

func batchTargetCount(svc *services, args []string, all bool) int {
	if all {
		return len(svc.data.ClusterIDs())
	}
	return len(args)
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolP("all", "a", false, "Process every cluster in the cluster table")
	batchCmd.Flags().Int("limit", 0, fmt.Sprintf("Max concurrent model calls (default %d, %d with --options)", roles.DefaultConcurrency, roles.DefaultOptionsConcurrency))
	batchCmd.Flags().BoolP("options", "o", false, "Generate three named options per cluster instead of a single role")
	batchCmd.Flags().String("export", "", "Export all generated roles afterwards (json or csv)")
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// clustersCmd represents the clusters command
var clustersCmd = &cobra.Command{
	Use:   "clusters [cluster-id]",
	Short: "List known clusters, or show the consolidated snapshot of one.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newServices()
		if err := svc.data.Load(); err != nil {
			return err
		}

		if len(args) == 1 {
			snap, err := svc.data.Snapshot(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		ids := svc.data.ClusterIDs()
		if len(ids) == 0 {
			fmt.Println("No clusters loaded. Check data.input_dir in the config.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "CLUSTER\tENTITLEMENTS\tUSERS\t")
		for _, id := range ids {
			snap, err := svc.data.Snapshot(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t\n", id, snap.EntitlementCount(), snap.UserSummary.TotalUsers)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(clustersCmd)
}

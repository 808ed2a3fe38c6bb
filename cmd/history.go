package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/jandubois/shutter/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent deliveries",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of deliveries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	path, err := getHistoryPath()
	if err != nil {
		return err
	}
	history, err := db.Connect(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer history.Close()

	deliveries, err := history.RecentDeliveries(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deliveries recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDESTINATION\tSIZE\tRESULT")
	for _, d := range deliveries {
		result := d.Outcome.Location()
		if !d.Outcome.Success {
			result = "FAILED: " + d.Outcome.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.CreatedAt.Local().Format(time.DateTime),
			d.Outcome.Name,
			units.HumanSize(float64(d.Size))+" "+d.Format,
			result,
		)
	}
	return w.Flush()
}

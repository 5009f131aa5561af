// lorarootctl is a command-line tool for inspecting the lorarootd
// telemetry database.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loramac/lora-root/internal/mac"
	"github.com/loramac/lora-root/internal/telemetry"
)

var (
	dbPath  string
	limit   int
	rootCmd = &cobra.Command{
		Use:   "lorarootctl",
		Short: "LoRa root node telemetry CLI",
		Long:  "Command-line tool for inspecting the lorarootd telemetry database.",
	}

	childrenCmd = &cobra.Command{
		Use:   "children",
		Short: "Show per-child frame counters",
		RunE:  showChildren,
	}

	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Show recent child-lifecycle events",
		RunE:  showEvents,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/lorarootd/telemetry.db", "telemetry database path")
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of records to show")

	rootCmd.AddCommand(childrenCmd)
	rootCmd.AddCommand(eventsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func showChildren(cmd *cobra.Command, args []string) error {
	store, err := telemetry.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.AllChildStats()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tDELIVERED\tRETRANSMITS\tNOT-SENT\tUPDATED")
	fmt.Fprintln(w, "----\t---------\t-----------\t--------\t-------")

	for _, c := range stats {
		addr := mac.Addr{Prefix: c.Prefix, NodeID: c.NodeID}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			addr, c.FramesDelivered, c.Retransmissions, c.NotSendCount,
			c.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func showEvents(cmd *cobra.Command, args []string) error {
	store, err := telemetry.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.RecentEvents(limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tKIND\tTIME")
	fmt.Fprintln(w, "----\t----\t----")

	for _, e := range events {
		addr := mac.Addr{Prefix: e.Prefix, NodeID: e.NodeID}
		fmt.Fprintf(w, "%s\t%s\t%s\n", addr, e.Kind, e.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

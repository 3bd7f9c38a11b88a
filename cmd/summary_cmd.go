package cmd

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/tracesim/taskdb"
)

var summaryCmd = &cobra.Command{
	Use:   "summary [task-database]",
	Short: "Print row counts and simulation info of a task database",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		if err := printSummary(args[0]); err != nil {
			log.Fatalf("Error reading task database: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func printSummary(dbPath string) error {
	reader, err := taskdb.NewReader(dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	tasks, err := reader.CountTasks()
	if err != nil {
		return err
	}

	sims, err := reader.Simulations()
	if err != nil {
		return err
	}

	counts, err := reader.CountRows()
	if err != nil {
		return err
	}

	fmt.Printf("Task database: %s\n", dbPath)
	fmt.Printf("Tasks: %d\n", tasks)
	fmt.Printf("Simulations: %d\n", len(sims))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "\nTABLE\tROWS")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Table, c.Rows)
	}

	if len(sims) > 0 {
		fmt.Fprintln(w, "\nSIM\tRUN ID")
		for _, s := range sims {
			fmt.Fprintf(w, "%d\t%s\n", s.SimID, s.RunID)
		}
	}

	return w.Flush()
}

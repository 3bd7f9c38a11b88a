package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/tracesim/idealsim"
	"github.com/sarchlab/tracesim/taskdb"
)

var simulateMaxDepth int

var simulateCmd = &cobra.Command{
	Use:   "simulate [task-database]",
	Short: "Simulate the ideal schedule of an unpacked trace",
	Long: `Simulate replays the recorded task execution model under an ideal ` +
		`scheduler with unlimited workers, where every task starts the moment ` +
		`it is created. The simulated action history, suspend metadata and ` +
		`critical-task records are appended to the same task database under a ` +
		`fresh simulation id.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		if err := simulateDB(args[0]); err != nil {
			log.Fatalf("Error simulating: %v", err)
		}
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateMaxDepth, "max-depth",
		defaultMaxDepth(), "maximum task tree depth to descend")
	rootCmd.AddCommand(simulateCmd)
}

func simulateDB(dbPath string) error {
	reader, err := taskdb.NewReader(dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := taskdb.NewSimWriter(dbPath)
	if err != nil {
		return err
	}

	start := time.Now()
	scheduler := idealsim.NewScheduler(reader, writer, writer, writer).
		WithMaxDepth(simulateMaxDepth)

	if err := scheduler.Run(); err != nil {
		_ = writer.Close()
		return err
	}

	if err := writer.Close(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Simulation %d completed in %.2fs\n",
		writer.SimID(), time.Since(start).Seconds())

	return nil
}

func defaultMaxDepth() int {
	v := envOr("TRACESIM_MAX_DEPTH", "")
	if v == "" {
		return idealsim.DefaultMaxDepth
	}

	depth, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid TRACESIM_MAX_DEPTH %q: %v", v, err)
	}

	return depth
}

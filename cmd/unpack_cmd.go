package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/tracesim/eventmodel"
	"github.com/sarchlab/tracesim/extraction"
	"github.com/sarchlab/tracesim/taskdb"
	"github.com/sarchlab/tracesim/traceio"
)

var unpackOutput string

var unpackCmd = &cobra.Command{
	Use:   "unpack [trace-file]",
	Short: "Extract the task execution model of a trace into a task database",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		if err := unpackTrace(args[0], unpackOutput); err != nil {
			log.Fatalf("Error unpacking trace: %v", err)
		}
	},
}

func init() {
	unpackCmd.Flags().StringVarP(&unpackOutput, "output", "o", "",
		"task database file to create (default: generated name)")
	rootCmd.AddCommand(unpackCmd)
}

func unpackTrace(tracePath, dbPath string) error {
	src, err := traceio.Open(tracePath)
	if err != nil {
		return err
	}
	defer src.Close()

	classifier, err := eventmodel.New(src.Model())
	if err != nil {
		return err
	}

	writer, err := taskdb.NewTraceWriter(dbPath)
	if err != nil {
		return err
	}

	start := time.Now()
	driver := extraction.NewDriver(classifier, writer, writer, writer).
		WithProgress(progressInterval(), func(total uint64) {
			elapsed := time.Since(start).Seconds()
			fmt.Fprintf(os.Stderr, "%d events processed (%.0f events/sec)\n",
				total, float64(total)/elapsed)
		})

	total, err := driver.Run(src)
	if err != nil {
		// A partial action history is not a usable result.
		_ = writer.Close()
		_ = os.Remove(writer.Path())

		return err
	}

	if err := writer.Finalize(); err != nil {
		return err
	}

	if err := writer.Close(); err != nil {
		return err
	}

	elapsed := time.Since(start).Seconds()
	fmt.Fprintf(os.Stderr, "Unpacked %d events in %.2fs (%.0f events/sec)\n",
		total, elapsed, float64(total)/elapsed)

	return nil
}

func progressInterval() uint64 {
	v := envOr("TRACESIM_PROGRESS_INTERVAL", "100000")

	interval, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Fatalf("Invalid TRACESIM_PROGRESS_INTERVAL %q: %v", v, err)
	}

	return interval
}

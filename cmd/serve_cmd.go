package cmd

import (
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/tracesim/taskdb"
	"github.com/sarchlab/tracesim/webview"
)

var (
	servePort    int
	serveBrowser bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [task-database]",
	Short: "Serve a task database over HTTP for inspection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		reader, err := taskdb.NewReader(args[0])
		if err != nil {
			log.Fatalf("Error opening task database: %v", err)
		}

		server := webview.NewServer(reader).WithPortNumber(servePort)
		if serveBrowser {
			server = server.WithBrowser()
		}

		server.StartServer()

		// Serve until interrupted.
		select {}
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", defaultPort(),
		"port to listen on (0 picks a random port)")
	serveCmd.Flags().BoolVar(&serveBrowser, "browser", false,
		"open the served page in the default browser")
	rootCmd.AddCommand(serveCmd)
}

func defaultPort() int {
	v := envOr("TRACESIM_PORT", "0")

	port, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid TRACESIM_PORT %q: %v", v, err)
	}

	return port
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nc-capture",
	Short: "Packet capture daemon with live, probe and simulated backends",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture controller behind the HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		if err := runServe(configPath); err != nil {
			var interrupted Interrupted
			if errors.As(err, &interrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

var inspectOpts inspectOptions

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a pcap or pcapng file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd.OutOrStdout(), args[0], inspectOpts)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")

	inspectCmd.Flags().IntVarP(&inspectOpts.Limit, "limit", "n", 20, "Number of newest packets to print")
	inspectCmd.Flags().StringVar(&inspectOpts.ExportFormat, "export", "", "Convert the file to json, csv, pcap or pcapng")
	inspectCmd.Flags().StringVarP(&inspectOpts.Output, "output", "o", "", "Output path for --export (default: generated name)")

	rootCmd.AddCommand(serveCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Go2NetCapture/internal/backend/livecap"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/logging"
	"Go2NetCapture/internal/probe"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nc-probe",
	Short: "Serve a local libpcap capture backend over NATS",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(configPath); err != nil {
			var interrupted Interrupted
			if errors.As(err, &interrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	backend := livecap.New(cfg.Livecap, log)
	defer backend.Close()

	srv, err := probe.NewServer(cfg.Probe, backend, log)
	if err != nil {
		return fmt.Errorf("failed to create probe server: %w", err)
	}
	defer srv.Close()

	wg, ctx := errgroup.WithContext(context.Background())
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start probe server: %w", err)
	}
	wg.Go(func() error {
		err := WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
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

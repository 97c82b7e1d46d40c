package main

import (
	"context"
	"fmt"

	"Go2NetCapture/internal/api"
	"Go2NetCapture/internal/backend/livecap"
	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/logging"
	"Go2NetCapture/internal/mirror"
	"Go2NetCapture/internal/probe"
	"Go2NetCapture/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runServe(path string) error {
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

	ctx := context.Background()

	st, err := store.Open(cfg.Store, log, store.WithMirrors(cfg.Mirror.Identity, openMirrors(ctx, cfg.Mirror, log)...))
	if err != nil {
		return fmt.Errorf("failed to open saved capture store: %w", err)
	}
	defer st.Close()

	backend, closeBackend := selectBackend(ctx, cfg, log)
	defer closeBackend()

	ctl := capture.NewController(cfg.Capture, backend, st, log)
	defer ctl.Close()

	srv := api.NewServer(cfg.API, ctl, log)

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return srv.Serve(ctx)
	})
	wg.Go(func() error {
		err := WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}

// selectBackend resolves capture.backend. A nil backend leaves the
// controller on synthetic traffic.
func selectBackend(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (capture.Backend, func()) {
	noop := func() {}

	useLibpcap := func() (capture.Backend, func()) {
		b := livecap.New(cfg.Livecap, log)
		return b, b.Close
	}
	useProbe := func(tries uint) (capture.Backend, func(), error) {
		c, err := probe.Dial(ctx, cfg.Probe, tries, log)
		if err != nil {
			return nil, noop, err
		}
		return c, c.Close, nil
	}

	switch cfg.Capture.Backend {
	case config.BackendNone:
		log.Info("native capture disabled, using synthetic traffic")
		return nil, noop
	case config.BackendLibpcap:
		return useLibpcap()
	case config.BackendProbe:
		b, closeFn, err := useProbe(cfg.Capture.SubscribeRetries)
		if err != nil {
			log.Warnw("capture probe unreachable, using synthetic traffic", "error", err)
			return nil, noop
		}
		return b, closeFn
	}

	// auto: local libpcap first, then a probe, then synthetic traffic.
	b, closeFn := useLibpcap()
	if r, _ := b.Readiness(ctx); r.Installed {
		log.Infow("using local libpcap backend", "version", r.Message)
		return b, closeFn
	}
	closeFn()

	if pb, closeFn, err := useProbe(1); err == nil {
		log.Infow("using remote capture probe", "url", cfg.Probe.NATSURL)
		return pb, closeFn
	}
	log.Info("no native capture backend found, using synthetic traffic")
	return nil, noop
}

// openMirrors connects the enabled mirrors. A mirror that cannot connect
// is skipped.
func openMirrors(ctx context.Context, cfg config.MirrorConfig, log *zap.SugaredLogger) []store.Mirror {
	var mirrors []store.Mirror
	if cfg.NATS.Enabled {
		m, err := mirror.NewNATSMirror(cfg.NATS, log)
		if err != nil {
			log.Warnw("NATS mirror disabled", "error", err)
		} else {
			mirrors = append(mirrors, m)
		}
	}
	if cfg.ClickHouse.Enabled {
		m, err := mirror.NewClickHouseMirror(ctx, cfg.ClickHouse, log)
		if err != nil {
			log.Warnw("ClickHouse mirror disabled", "error", err)
		} else {
			mirrors = append(mirrors, m)
		}
	}
	return mirrors
}

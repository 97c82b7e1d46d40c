package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const streamBuffer = 1024

// Client is a capture.Backend served by a remote probe.
type Client struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	log     *zap.SugaredLogger

	mu      sync.Mutex
	streams map[*eventStream]struct{}
}

// Dial connects to NATS, retrying with exponential backoff for up to
// maxTries attempts.
func Dial(ctx context.Context, cfg config.ProbeConfig, maxTries uint, log *zap.SugaredLogger) (*Client, error) {
	c := &Client{
		prefix:  strings.TrimSuffix(cfg.SubjectPrefix, "."),
		timeout: cfg.RequestTimeoutDuration(),
		log:     log,
		streams: make(map[*eventStream]struct{}),
	}

	nc, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("nc-capture"),
			nats.MaxReconnects(-1),
			nats.ClosedHandler(func(*nats.Conn) { c.endStreams() }),
		)
		if err != nil {
			log.Warnw("NATS connect failed, retrying", "url", cfg.NATSURL, "error", err)
		}
		return nc, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	c.nc = nc
	log.Infow("connected to NATS server", "url", cfg.NATSURL, "prefix", c.prefix)
	return c, nil
}

func (c *Client) subject(name string) string {
	return c.prefix + "." + name
}

func (c *Client) request(ctx context.Context, cmd string, payload []byte) (Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(ctx, c.subject(cmd), payload)
	if err != nil {
		return Reply{}, err
	}
	reply, err := DecodeReply(msg.Data)
	if err != nil {
		return Reply{}, err
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}

// Readiness asks the probe whether it can capture. A probe that does not
// answer is reported as not installed.
func (c *Client) Readiness(ctx context.Context) (model.Readiness, error) {
	reply, err := c.request(ctx, CmdReady, nil)
	if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
		return model.Readiness{Installed: false, Message: "capture probe not reachable"}, nil
	}
	if err != nil {
		return model.Readiness{}, err
	}
	return reply.Readiness, nil
}

// Interfaces lists the devices of the probe host.
func (c *Client) Interfaces(ctx context.Context) ([]model.Interface, error) {
	reply, err := c.request(ctx, CmdInterfaces, nil)
	if err != nil {
		return nil, err
	}
	return reply.Interfaces, nil
}

// Start asks the probe to begin capturing.
func (c *Client) Start(ctx context.Context, iface string, protocols []model.Protocol, bpf string) error {
	payload, err := EncodeStart(StartCommand{Interface: iface, Protocols: protocols, BPF: bpf})
	if err != nil {
		return err
	}
	_, err = c.request(ctx, CmdStart, payload)
	return err
}

// Stop asks the probe to stop capturing.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.request(ctx, CmdStop, nil)
	return err
}

// Subscribe listens on the probe event subject.
func (c *Client) Subscribe(ctx context.Context) (capture.Subscription, error) {
	stream := &eventStream{ChanSubscription: capture.NewChanSubscription(streamBuffer), client: c}
	sub, err := c.nc.Subscribe(c.subject(EventsSubject), func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			c.log.Warnw("dropping malformed probe event", "error", err)
			return
		}
		stream.deliver(ev)
	})
	if err != nil {
		return nil, err
	}
	stream.sub = sub

	c.mu.Lock()
	c.streams[stream] = struct{}{}
	c.mu.Unlock()
	return stream, nil
}

func (c *Client) endStreams() {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[*eventStream]struct{})
	c.mu.Unlock()
	for s := range streams {
		s.end()
	}
}

// Close closes the NATS connection, which ends every open stream.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
	c.endStreams()
}

// eventStream adapts a NATS subscription to capture.Subscription.
type eventStream struct {
	*capture.ChanSubscription
	client *Client
	sub    *nats.Subscription

	mu        sync.Mutex
	ended     bool
	closeOnce sync.Once
	closeErr  error
}

func (s *eventStream) deliver(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if ev.Kind == model.EventPacket {
		if !s.TrySend(ev) {
			s.client.log.Debugw("probe event stream full, dropping packet")
		}
		return
	}
	s.Send(ev)
}

func (s *eventStream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.End()
	}
}

// Close implements capture.Subscription.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.ChanSubscription.Close()
		if s.sub != nil && s.client.nc.IsConnected() {
			s.closeErr = s.sub.Unsubscribe()
		}
		s.client.mu.Lock()
		delete(s.client.streams, s)
		s.client.mu.Unlock()
		s.end()
	})
	return s.closeErr
}

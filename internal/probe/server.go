// Package probe carries the native backend contract over NATS: commands as
// request/reply, backend events as a published stream. Payloads are
// protobuf Struct messages.
package probe

import (
	"context"
	"strings"
	"sync"
	"time"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Server exposes a local backend to remote controllers.
type Server struct {
	nc      *nats.Conn
	backend capture.Backend
	prefix  string
	timeout time.Duration
	subs    []*nats.Subscription
	log     *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer connects to NATS. Call Start to begin serving.
func NewServer(cfg config.ProbeConfig, backend capture.Backend, log *zap.SugaredLogger) (*Server, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("nc-probe"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	log.Infow("connected to NATS server", "url", cfg.NATSURL)
	return newServer(nc, cfg, backend, log), nil
}

func newServer(nc *nats.Conn, cfg config.ProbeConfig, backend capture.Backend, log *zap.SugaredLogger) *Server {
	return &Server{
		nc:      nc,
		backend: backend,
		prefix:  strings.TrimSuffix(cfg.SubjectPrefix, "."),
		timeout: cfg.RequestTimeoutDuration(),
		log:     log,
	}
}

func (s *Server) subject(name string) string {
	return s.prefix + "." + name
}

// Start subscribes to the command subjects and forwards backend events.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sub, err := s.backend.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}
	s.wg.Add(1)
	go s.forward(ctx, sub)

	for _, cmd := range []string{CmdReady, CmdInterfaces, CmdStart, CmdStop} {
		cmd := cmd
		ns, err := s.nc.Subscribe(s.subject(cmd), func(msg *nats.Msg) {
			reply := s.Dispatch(ctx, cmd, msg.Data)
			if err := msg.Respond(reply); err != nil {
				s.log.Warnw("failed to respond to probe command", "command", cmd, "error", err)
			}
		})
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, ns)
	}
	s.log.Infow("probe serving", "prefix", s.prefix)
	return nil
}

// Dispatch runs one command against the backend and returns the encoded
// reply. Decoding and backend failures become error replies.
func (s *Server) Dispatch(ctx context.Context, cmd string, data []byte) []byte {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reply Reply
	var err error
	switch cmd {
	case CmdReady:
		reply.Readiness, err = s.backend.Readiness(ctx)
	case CmdInterfaces:
		reply.Interfaces, err = s.backend.Interfaces(ctx)
		if err == nil && reply.Interfaces == nil {
			reply.Interfaces = []model.Interface{}
		}
	case CmdStart:
		var start StartCommand
		start, err = DecodeStart(data)
		if err == nil {
			err = s.backend.Start(ctx, start.Interface, start.Protocols, start.BPF)
		}
	case CmdStop:
		err = s.backend.Stop(ctx)
	default:
		reply.Error = "unknown command " + cmd
	}
	if err != nil {
		reply.Error = err.Error()
	}
	reply.OK = reply.Error == ""
	if !reply.OK {
		s.log.Warnw("probe command failed", "command", cmd, "error", reply.Error)
	}

	out, err := EncodeReply(reply)
	if err != nil {
		s.log.Errorw("failed to encode probe reply", "command", cmd, "error", err)
		out, _ = EncodeReply(Reply{Error: err.Error()})
	}
	return out
}

func (s *Server) forward(ctx context.Context, sub capture.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	subject := s.subject(EventsSubject)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := EncodeEvent(ev)
			if err != nil {
				s.log.Warnw("failed to encode backend event", "kind", ev.Kind, "error", err)
				continue
			}
			if err := s.nc.Publish(subject, data); err != nil {
				s.log.Warnw("failed to publish backend event", "kind", ev.Kind, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops serving and drains the NATS connection.
func (s *Server) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.nc != nil {
		s.nc.Drain()
		s.log.Infow("NATS connection drained and closed")
	}
}

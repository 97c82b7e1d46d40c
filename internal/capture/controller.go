// Package capture implements the capture session: its lifecycle state
// machine, the packet buffer it fills and the statistics derived from it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/export"
	"Go2NetCapture/internal/model"
	"Go2NetCapture/internal/synth"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// AutoInterface lets the backend pick a capture device.
const AutoInterface = "auto"

const maxInterfaceLen = 256

var leadingBackslashes = regexp.MustCompile(`^\\{2,}`)

// StartRequest carries the user choices for a new capture.
type StartRequest struct {
	Interface  string           `json:"interface"`
	Protocols  []model.Protocol `json:"protocols"`
	TextFilter string           `json:"textFilter"`
}

// Status is a consistent view of the session and its statistics.
type Status struct {
	Session model.CaptureSession `json:"session"`
	Stats   Stats                `json:"stats"`
}

// Controller owns the single capture session.
type Controller struct {
	// opMu serializes lifecycle operations, which may call the backend.
	opMu sync.Mutex
	// mu guards the fields below it and is never held across backend calls.
	mu        sync.Mutex
	session   model.CaptureSession
	epoch     uint64
	sub       Subscription
	listeners []func(model.CaptureState)

	buffer   *Buffer
	backend  Backend
	store    Store
	exporter *export.Pipeline
	gen      *synth.Generator

	tickInterval     time.Duration
	backendTimeout   time.Duration
	subscribeRetries uint
	newBackOff       func() backoff.BackOff
	newTicker        TickerFactory
	now              func() time.Time

	tickStop chan struct{}
	tickDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.SugaredLogger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTickerFactory replaces the ticker driving synthetic traffic.
func WithTickerFactory(f TickerFactory) Option {
	return func(c *Controller) {
		c.newTicker = f
	}
}

// WithGenerator replaces the synthetic traffic generator.
func WithGenerator(g *synth.Generator) Option {
	return func(c *Controller) {
		c.gen = g
	}
}

// WithSubscribeBackOff replaces the retry policy for event subscriptions.
func WithSubscribeBackOff(f func() backoff.BackOff) Option {
	return func(c *Controller) {
		c.newBackOff = f
	}
}

// WithExporter replaces the export pipeline.
func WithExporter(p *export.Pipeline) Option {
	return func(c *Controller) {
		c.exporter = p
	}
}

// NewController creates an idle controller. A nil backend means synthetic
// traffic only.
func NewController(cfg config.CaptureConfig, backend Backend, store Store, log *zap.SugaredLogger, options ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		session:          model.CaptureSession{Interface: AutoInterface, State: model.StateIdle, Protocols: []model.Protocol{}},
		buffer:           NewBuffer(),
		backend:          backend,
		store:            store,
		tickInterval:     cfg.TickIntervalDuration(),
		backendTimeout:   cfg.BackendTimeoutDuration(),
		subscribeRetries: cfg.SubscribeRetries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		newTicker: NewRealTicker,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
	for _, o := range options {
		o(c)
	}
	if c.gen == nil {
		c.gen = synth.NewGenerator(synth.WithClock(c.now))
	}
	if c.exporter == nil {
		c.exporter = export.NewPipeline(c.now)
	}
	if c.tickInterval <= 0 {
		c.tickInterval = 700 * time.Millisecond
	}
	if c.backendTimeout <= 0 {
		c.backendTimeout = 10 * time.Second
	}
	if c.subscribeRetries == 0 {
		c.subscribeRetries = 1
	}
	return c
}

// OnStateChange registers fn to be called after every state transition.
// fn runs without any controller lock held.
func (c *Controller) OnStateChange(fn func(model.CaptureState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// update applies fn to the session under the lock and notifies listeners
// if the state changed.
func (c *Controller) update(fn func(s *model.CaptureSession)) {
	c.mu.Lock()
	before := c.session.State
	fn(&c.session)
	after := c.session.State
	listeners := append([]func(model.CaptureState){}, c.listeners...)
	c.mu.Unlock()

	if before != after {
		c.log.Debugw("capture state changed", "from", before, "to", after)
		for _, l := range listeners {
			l(after)
		}
	}
}

func (c *Controller) current() model.CaptureSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Snapshot returns the session and the statistics of the buffer.
func (c *Controller) Snapshot() Status {
	s := c.current()
	s.Protocols = append([]model.Protocol{}, s.Protocols...)
	return Status{
		Session: s,
		Stats:   c.buffer.Stats(s.Elapsed(c.now())),
	}
}

// Packets returns up to n of the newest records. n <= 0 means DefaultWindow.
func (c *Controller) Packets(n int) []model.PacketRecord {
	if n <= 0 {
		n = DefaultWindow
	}
	return c.buffer.Windowed(n)
}

// Readiness probes the native backend.
func (c *Controller) Readiness(ctx context.Context) (model.Readiness, error) {
	if c.backend == nil {
		return model.Readiness{Installed: false, Message: "Native capture unavailable."}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.backendTimeout)
	defer cancel()

	r, err := c.backend.Readiness(ctx)
	if err != nil {
		return model.Readiness{Installed: false, Message: err.Error()}, &model.BackendError{Op: "readiness", Err: err}
	}
	return r, nil
}

// Interfaces lists the capture devices of the native backend.
func (c *Controller) Interfaces(ctx context.Context) ([]model.Interface, error) {
	if c.backend == nil {
		return []model.Interface{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.backendTimeout)
	defer cancel()

	ifaces, err := c.backend.Interfaces(ctx)
	if err != nil {
		return nil, &model.BackendError{Op: "interfaces", Err: err}
	}
	return ifaces, nil
}

// SetFilters changes the protocol set and text filter. The synthetic
// generator picks them up on its next tick; a native capture keeps the
// filters it was started with.
func (c *Controller) SetFilters(protocols []model.Protocol, textFilter string) error {
	protocols, err := validateProtocols(protocols, true)
	if err != nil {
		return err
	}
	c.update(func(s *model.CaptureSession) {
		s.Protocols = protocols
		s.TextFilter = strings.TrimSpace(textFilter)
	})
	return nil
}

// Start begins a capture. While a capture is starting, running or
// stopping it does nothing. Starting from the error state acknowledges
// the error.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	protocols, err := validateProtocols(req.Protocols, false)
	if err != nil {
		if len(req.Protocols) == 0 {
			c.update(func(s *model.CaptureSession) {
				s.Status = "Select at least one protocol to watch."
			})
		}
		return err
	}
	iface, err := normalizeInterface(req.Interface)
	if err != nil {
		return err
	}
	textFilter := strings.TrimSpace(req.TextFilter)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.current(); s.State.Active() || s.State == model.StateStopping {
		return nil
	}

	native := c.nativeAvailable(ctx)
	if native {
		iface, err = c.resolveInterface(ctx, iface)
		if err != nil {
			return err
		}
		return c.startNative(ctx, iface, protocols, textFilter)
	}
	c.startSynthetic(iface, protocols, textFilter)
	return nil
}

func (c *Controller) nativeAvailable(ctx context.Context) bool {
	if c.backend == nil {
		return false
	}
	r, err := c.Readiness(ctx)
	if err != nil {
		c.log.Warnw("native capture backend probe failed, using synthetic traffic", "error", err)
		return false
	}
	if !r.Installed {
		c.log.Infow("native capture backend not installed, using synthetic traffic", "message", r.Message)
	}
	return r.Installed
}

// resolveInterface checks a selector against the backend devices. Exact
// names and plain selectors are passed through; glob patterns must match
// a device.
func (c *Controller) resolveInterface(ctx context.Context, iface string) (string, error) {
	if iface == AutoInterface || !strings.ContainsAny(iface, "*?[") {
		return iface, nil
	}

	ifaces, err := c.Interfaces(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range ifaces {
		if d.Name == iface {
			return iface, nil
		}
	}

	g, err := glob.Compile(iface)
	if err != nil {
		return "", &model.ValidationError{Field: "interface", Reason: fmt.Sprintf("bad pattern %q: %v", iface, err)}
	}
	for _, d := range ifaces {
		if g.Match(d.Name) {
			return d.Name, nil
		}
	}
	return "", &model.ValidationError{Field: "interface", Reason: fmt.Sprintf("pattern %q matches no capture interface", iface)}
}

func (c *Controller) startSynthetic(iface string, protocols []model.Protocol, textFilter string) {
	c.stopTicker()
	c.buffer.Reset()
	now := c.now()
	c.update(func(s *model.CaptureSession) {
		*s = model.CaptureSession{
			Interface:  iface,
			Protocols:  protocols,
			TextFilter: textFilter,
			StartedAt:  now,
			State:      model.StateCapturing,
			Status:     fmt.Sprintf("Capturing on %s (%s) - simulated preview", iface, joinProtocols(protocols)),
		}
	})

	ticker := c.newTicker(c.tickInterval)
	stop := make(chan struct{})
	done := make(chan struct{})
	c.tickStop, c.tickDone = stop, done

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				c.syntheticTick()
			case <-stop:
				return
			}
		}
	}()
	c.log.Infow("synthetic capture started", "interface", iface, "protocols", protocols, "interval", c.tickInterval)
}

func (c *Controller) syntheticTick() {
	s := c.current()
	if s.State != model.StateCapturing || len(s.Protocols) == 0 {
		return
	}
	rec, ok := c.gen.Next(s.Protocols, s.TextFilter)
	if !ok {
		return
	}
	c.buffer.Insert(rec)
	n := c.buffer.Len()
	c.update(func(s *model.CaptureSession) {
		s.Status = fmt.Sprintf("Capturing... %d packets", n)
	})
}

// stopTicker stops the synthetic loop and waits for it to exit. Must be
// called with opMu held and mu not held.
func (c *Controller) stopTicker() {
	if c.tickStop == nil {
		return
	}
	close(c.tickStop)
	<-c.tickDone
	c.tickStop, c.tickDone = nil, nil
}

func (c *Controller) startNative(ctx context.Context, iface string, protocols []model.Protocol, bpf string) error {
	if err := c.ensureSubscription(ctx); err != nil {
		c.update(func(s *model.CaptureSession) {
			s.State = model.StateError
			s.LastError = err.Error()
			s.Status = err.Error()
		})
		return err
	}

	c.buffer.Reset()
	now := c.now()
	var attempt uint64
	c.update(func(s *model.CaptureSession) {
		c.epoch++
		attempt = c.epoch
		*s = model.CaptureSession{
			Interface:  iface,
			Protocols:  protocols,
			TextFilter: bpf,
			StartedAt:  now,
			State:      model.StateStarting,
			Native:     true,
			Status:     fmt.Sprintf("Starting capture on %s (%s)...", iface, joinProtocols(protocols)),
		}
	})

	device := iface
	if device == AutoInterface {
		device = ""
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.backendTimeout)
		defer cancel()

		err := c.backend.Start(ctx, device, protocols, bpf)
		c.update(func(s *model.CaptureSession) {
			if c.epoch != attempt {
				return
			}
			if err != nil {
				if s.State.Active() {
					c.failLocked(s, (&model.BackendError{Op: "start", Err: err}).Error())
				}
				return
			}
			if s.State == model.StateStarting {
				s.State = model.StateCapturing
				s.Status = fmt.Sprintf("Capturing on %s (%s)...", iface, joinProtocols(protocols))
			}
		})
		if err != nil {
			c.log.Warnw("native capture start failed", "interface", iface, "error", err)
			return
		}
		c.log.Infow("native capture started", "interface", iface, "protocols", protocols, "bpf", bpf)
	}()
	return nil
}

// ensureSubscription opens the backend event stream if none is open,
// retrying with exponential backoff.
func (c *Controller) ensureSubscription(ctx context.Context) error {
	c.mu.Lock()
	open := c.sub != nil
	c.mu.Unlock()
	if open {
		return nil
	}

	sub, err := backoff.Retry(ctx, func() (Subscription, error) {
		return c.backend.Subscribe(c.ctx)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.subscribeRetries))
	if err != nil {
		return &model.BackendError{Op: "subscribe", Err: err}
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(sub)
	return nil
}

func (c *Controller) consume(sub Subscription) {
	defer c.wg.Done()
	events := sub.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.subscriptionEnded(sub)
				return
			}
			c.handleEvent(ev)
		case <-c.ctx.Done():
			sub.Close()
			return
		}
	}
}

func (c *Controller) subscriptionEnded(sub Subscription) {
	sub.Close()
	c.update(func(s *model.CaptureSession) {
		if c.sub == sub {
			c.sub = nil
		}
		if s.Native && s.State.Active() {
			c.failLocked(s, "capture backend event stream closed")
		}
	})
	c.log.Warnw("capture backend event stream closed")
}

// handleEvent applies a backend event. Sessions running on synthetic
// traffic ignore the backend stream, which stays open between captures.
func (c *Controller) handleEvent(ev model.Event) {
	switch ev.Kind {
	case model.EventPacket:
		if ev.Packet == nil {
			return
		}
		c.update(func(s *model.CaptureSession) {
			if !s.Native {
				return
			}
			switch s.State {
			case model.StateStarting:
				s.State = model.StateCapturing
			case model.StateCapturing, model.StateStopping:
			default:
				return
			}
			c.buffer.Insert(*ev.Packet)
			s.Status = fmt.Sprintf("Capturing... %d packets", c.buffer.Len())
		})

	case model.EventStatus:
		msg := ev.Message
		if msg == "" {
			msg = "Capture status update."
		}
		lower := strings.ToLower(msg)
		c.update(func(s *model.CaptureSession) {
			if !s.Native {
				return
			}
			s.Status = msg
			switch {
			case strings.Contains(lower, "stopped"):
				if s.State.Active() || s.State == model.StateStopping {
					c.epoch++
					c.finishLocked(s)
					s.Status = msg
				}
			case strings.Contains(lower, "running"):
				if s.State == model.StateStarting {
					s.State = model.StateCapturing
				}
			}
		})

	case model.EventError:
		msg := ev.Message
		if msg == "" {
			msg = "Capture error."
		}
		var failed bool
		c.update(func(s *model.CaptureSession) {
			if !s.Native {
				return
			}
			s.Status = msg
			if s.State.Active() {
				c.failLocked(s, msg)
				failed = true
			}
		})
		c.log.Warnw("capture backend reported an error", "message", msg)
		if failed {
			c.stopBackendAsync()
		}
	}
}

// failLocked moves the session to the error state.
func (c *Controller) failLocked(s *model.CaptureSession, msg string) {
	c.epoch++
	if !s.StartedAt.IsZero() {
		s.Duration = c.now().Sub(s.StartedAt)
	}
	s.StartedAt = time.Time{}
	s.State = model.StateError
	s.LastError = msg
	s.Status = msg
}

// finishLocked moves the session to the stopped state.
func (c *Controller) finishLocked(s *model.CaptureSession) {
	if !s.StartedAt.IsZero() {
		s.Duration = c.now().Sub(s.StartedAt)
	}
	s.StartedAt = time.Time{}
	s.State = model.StateStopped
	s.Status = "Capture stopped."
	if n := c.buffer.Len(); n > 0 {
		s.Status += fmt.Sprintf(" Saved %d packets.", n)
	}
}

// stopBackendAsync tells the backend to stop without waiting for it.
func (c *Controller) stopBackendAsync() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.backendTimeout)
		defer cancel()
		if err := c.backend.Stop(ctx); err != nil {
			c.log.Warnw("native capture stop failed", "error", err)
		}
	}()
}

// Stop ends the capture. It is idempotent. A native capture stays in the
// stopping state until the backend acknowledges.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.current()
	if !s.State.Active() {
		return nil
	}

	if !s.Native {
		c.stopTicker()
		c.update(c.finishLocked)
		c.log.Infow("synthetic capture stopped", "packets", c.buffer.Len())
		return nil
	}

	var attempt uint64
	c.update(func(s *model.CaptureSession) {
		c.epoch++
		attempt = c.epoch
		if !s.StartedAt.IsZero() {
			s.Duration = c.now().Sub(s.StartedAt)
		}
		s.StartedAt = time.Time{}
		s.State = model.StateStopping
		s.Status = "Stopping capture..."
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.backendTimeout)
		defer cancel()

		err := c.backend.Stop(ctx)
		c.update(func(s *model.CaptureSession) {
			if c.epoch != attempt || s.State != model.StateStopping {
				return
			}
			c.finishLocked(s)
			if err != nil {
				s.Status = (&model.BackendError{Op: "stop", Err: err}).Error()
			}
		})
		if err != nil {
			c.log.Warnw("native capture stop failed", "error", err)
			return
		}
		c.log.Infow("native capture stopped", "packets", c.buffer.Len())
	}()
	return nil
}

// Clear drops the buffered packets and the recorded duration. It is only
// applied in the idle and stopped states and reports whether it was.
func (c *Controller) Clear() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	applied := false
	c.update(func(s *model.CaptureSession) {
		if s.State != model.StateIdle && s.State != model.StateStopped {
			return
		}
		c.buffer.Reset()
		s.Duration = 0
		s.StartedAt = time.Time{}
		s.Status = "Capture log cleared."
		applied = true
	})
	return applied
}

// AckError acknowledges a backend failure and returns to idle. It reports
// whether the session was in the error state.
func (c *Controller) AckError() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	acked := false
	c.update(func(s *model.CaptureSession) {
		if s.State != model.StateError {
			return
		}
		s.State = model.StateIdle
		s.LastError = ""
		s.Status = "Ready."
		acked = true
	})
	return acked
}

// Save stores the current buffer as a named snapshot.
func (c *Controller) Save(ctx context.Context, label string) (model.SavedCapture, error) {
	packets := c.buffer.Snapshot()
	if len(packets) == 0 {
		c.setStatus("No packets to save.")
		return model.SavedCapture{}, model.ErrNoPackets
	}
	saved, err := c.store.Save(ctx, label, packets)
	if err != nil {
		c.setStatus("Failed to save capture.")
		return model.SavedCapture{}, err
	}
	c.setStatus("Saved capture: " + saved.Label)
	c.log.Infow("capture saved", "id", saved.ID, "label", saved.Label, "packets", len(saved.Packets))
	return saved, nil
}

// LoadSaved replaces the buffer with a saved snapshot. It is rejected
// while a capture is starting, running or stopping.
func (c *Controller) LoadSaved(ctx context.Context, id string) (model.SavedCapture, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if s := c.current(); s.State.Active() || s.State == model.StateStopping {
		return model.SavedCapture{}, &model.ValidationError{Field: "state", Reason: "stop the capture before loading a saved one"}
	}

	saved, err := c.store.Get(id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.setStatus("Saved capture not found.")
		}
		return model.SavedCapture{}, err
	}

	c.buffer.Replace(saved.Packets)
	label := saved.Label
	if label == "" {
		label = id
	}
	c.update(func(s *model.CaptureSession) {
		s.Duration = 0
		s.StartedAt = time.Time{}
		if s.State == model.StateError {
			s.State = model.StateIdle
			s.LastError = ""
		}
		s.Status = "Loaded saved capture: " + label
	})
	return saved, nil
}

// SavedCaptures lists the stored snapshots, newest first.
func (c *Controller) SavedCaptures() []model.SavedCaptureSummary {
	return c.store.List()
}

// DeleteSaved removes stored snapshots by id.
func (c *Controller) DeleteSaved(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, &model.ValidationError{Field: "ids", Reason: "no saved captures selected"}
	}
	n, err := c.store.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	c.setStatus(fmt.Sprintf("Deleted %d saved capture(s).", n))
	return n, nil
}

// Export encodes the current buffer. An empty buffer is a no-op that only
// sets the "No packets to export." status: the artifact and error are both nil.
func (c *Controller) Export(format export.Format) (*export.Artifact, error) {
	return c.exportPackets(c.buffer.Snapshot(), format)
}

// ExportSaved encodes a saved snapshot without loading it. An unknown id
// yields model.ErrNotFound; an empty snapshot behaves like Export.
func (c *Controller) ExportSaved(id string, format export.Format) (*export.Artifact, error) {
	saved, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	return c.exportPackets(saved.Packets, format)
}

func (c *Controller) exportPackets(packets []model.PacketRecord, format export.Format) (*export.Artifact, error) {
	art, err := c.exporter.Export(packets, format)
	switch {
	case errors.Is(err, model.ErrNoPackets):
		c.setStatus(export.NoPacketsStatus)
		return nil, nil
	case err != nil:
		return nil, err
	}
	c.setStatus(art.Status)
	return art, nil
}

func (c *Controller) setStatus(msg string) {
	c.update(func(s *model.CaptureSession) {
		s.Status = msg
	})
}

// Close stops any capture, ends the event subscription and waits for the
// background goroutines.
func (c *Controller) Close() error {
	c.opMu.Lock()
	c.stopTicker()
	s := c.current()
	if s.Native && (s.State.Active() || s.State == model.StateStopping) {
		ctx, cancel := context.WithTimeout(context.Background(), c.backendTimeout)
		if err := c.backend.Stop(ctx); err != nil {
			c.log.Warnw("native capture stop on close failed", "error", err)
		}
		cancel()
	}
	c.update(func(s *model.CaptureSession) {
		c.epoch++
		if s.State.Active() || s.State == model.StateStopping {
			c.finishLocked(s)
		}
	})
	c.opMu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		return sub.Close()
	}
	return nil
}

func validateProtocols(in []model.Protocol, allowEmpty bool) ([]model.Protocol, error) {
	if len(in) == 0 {
		if allowEmpty {
			return []model.Protocol{}, nil
		}
		return nil, &model.ValidationError{Field: "protocols", Reason: "select at least one protocol to watch"}
	}
	seen := make(map[model.Protocol]bool, len(in))
	out := make([]model.Protocol, 0, len(in))
	for _, p := range in {
		if !p.Known() {
			return nil, &model.ValidationError{Field: "protocols", Reason: fmt.Sprintf("unknown protocol %q", p)}
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// normalizeInterface trims the selector, maps empty to "auto" and
// collapses doubled leading backslashes pasted from Windows device names.
func normalizeInterface(raw string) (string, error) {
	iface := strings.TrimSpace(raw)
	if iface == "" {
		return AutoInterface, nil
	}
	if len(iface) > maxInterfaceLen {
		return "", &model.ValidationError{Field: "interface", Reason: fmt.Sprintf("longer than %d bytes", maxInterfaceLen)}
	}
	for _, r := range iface {
		if unicode.IsControl(r) {
			return "", &model.ValidationError{Field: "interface", Reason: "contains control characters"}
		}
	}
	return leadingBackslashes.ReplaceAllString(iface, `\`), nil
}

func joinProtocols(protocols []model.Protocol) string {
	names := make([]string, len(protocols))
	for i, p := range protocols {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

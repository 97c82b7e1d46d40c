// Package livecap is the in-process native capture backend built on
// libpcap, with a tshark subprocess as the fallback source.
package livecap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"
	"Go2NetCapture/internal/protocol"
	"Go2NetCapture/internal/recorder"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const (
	StatusRunning = "Capture running..."
	StatusStopped = "Capture stopped."
)

// ErrAlreadyRunning is returned by Start while a capture is active.
var ErrAlreadyRunning = errors.New("capture already running")

// Backend captures from a local device through libpcap.
type Backend struct {
	cfg config.LivecapConfig
	log *zap.SugaredLogger
	hub *hub

	mu      sync.Mutex
	running *session
}

// session is one running capture: a libpcap handle, or a tshark process
// ended through cancel.
type session struct {
	handle   *pcap.Handle
	cancel   context.CancelFunc
	recorder *recorder.Recorder
	done     chan struct{}
}

// New creates an idle backend.
func New(cfg config.LivecapConfig, log *zap.SugaredLogger) *Backend {
	return &Backend{
		cfg: cfg,
		log: log,
		hub: newHub(),
	}
}

// Readiness reports whether libpcap, or failing that tshark, is usable on
// this host.
func (b *Backend) Readiness(ctx context.Context) (model.Readiness, error) {
	if _, err := pcap.FindAllDevs(); err != nil {
		if path, ok := b.tsharkPath(); ok {
			return model.Readiness{Installed: true, Message: fmt.Sprintf("libpcap not available (%v); using tshark at %s", err, path)}, nil
		}
		return model.Readiness{Installed: false, Message: fmt.Sprintf("libpcap not available: %v", err)}, nil
	}
	return model.Readiness{Installed: true, Message: pcap.Version()}, nil
}

// Interfaces lists the devices libpcap can open, or the ones "tshark -D"
// reports when libpcap finds none.
func (b *Backend) Interfaces(ctx context.Context) ([]model.Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil || len(devs) == 0 {
		if path, ok := b.tsharkPath(); ok {
			if ifaces, terr := tsharkInterfaces(ctx, path); terr == nil && len(ifaces) > 0 {
				return ifaces, nil
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	out := make([]model.Interface, 0, len(devs))
	for _, d := range devs {
		out = append(out, model.Interface{Name: d.Name, Description: d.Description})
	}
	return out, nil
}

// Subscribe opens an event stream. Every subscriber sees every event.
func (b *Backend) Subscribe(ctx context.Context) (capture.Subscription, error) {
	return b.hub.subscribe(), nil
}

// Start opens iface ("" picks the first device) and starts reading. A
// filter libpcap rejects is reported as a status event and the capture
// continues unfiltered. When libpcap cannot open the device and tshark is
// available, tshark captures instead with the same filter.
func (b *Backend) Start(ctx context.Context, iface string, protocols []model.Protocol, bpf string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running != nil {
		return ErrAlreadyRunning
	}

	filter := BuildFilter(protocols, bpf)
	handle, device, err := b.open(iface)
	if err != nil {
		path, ok := b.tsharkPath()
		if !ok {
			return err
		}
		b.log.Warnw("libpcap open failed, falling back to tshark", "interface", iface, "error", err)
		if terr := b.startTshark(path, device, filter); terr != nil {
			return fmt.Errorf("%w; tshark fallback also failed: %v", err, terr)
		}
		return nil
	}
	iface = device

	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			b.log.Warnw("bpf filter rejected", "filter", filter, "error", err)
			b.hub.publish(model.StatusEvent(fmt.Sprintf("Filter rejected: %v; capturing unfiltered.", err)))
		}
	}

	s := &session{handle: handle, done: make(chan struct{})}
	if b.cfg.RecordDir != "" {
		rec, err := recorder.New(b.cfg.RecordDir, uint32(b.cfg.Snaplen), handle.LinkType(), b.cfg.RecordChannelSize, b.log)
		if err != nil {
			b.log.Warnw("raw frame recording disabled", "error", err)
		} else {
			s.recorder = rec
		}
	}
	b.running = s

	go b.run(s, iface)
	b.log.Infow("live capture opened", "interface", iface, "filter", filter, "snaplen", b.cfg.Snaplen)
	return nil
}

func (b *Backend) run(s *session, iface string) {
	defer close(s.done)

	b.hub.publish(model.StatusEvent(StatusRunning))

	source := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	source.NoCopy = true
	var captured, dropped int
	for {
		packet, err := source.NextPacket()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if !endOfCapture(err) {
				b.hub.publish(model.ErrorEvent(fmt.Sprintf("Capture error: %v", err)))
			}
			break
		}

		md := packet.Metadata()
		if s.recorder != nil {
			s.recorder.Record(md.CaptureInfo, packet.Data())
		}
		rec := protocol.Summarize(packet.Data(), md.Timestamp)
		dropped += b.hub.publish(model.PacketEvent(rec))
		captured++
	}

	if s.recorder != nil {
		s.recorder.Close()
	}
	b.log.Infow("live capture finished", "interface", iface, "captured", captured, "dropped", dropped)

	b.mu.Lock()
	if b.running == s {
		b.running = nil
	}
	b.mu.Unlock()
	b.hub.publish(model.StatusEvent(StatusStopped))
}

// Stop closes the running capture and waits for the reader to finish.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	s := b.running
	b.mu.Unlock()
	if s == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	} else {
		s.handle.Close()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// open resolves iface ("" picks the first device) and opens it.
func (b *Backend) open(iface string) (*pcap.Handle, string, error) {
	if iface == "" {
		devs, err := pcap.FindAllDevs()
		if err != nil {
			return nil, "", fmt.Errorf("failed to list capture devices: %w", err)
		}
		if len(devs) == 0 {
			return nil, "", errors.New("no default capture interface found")
		}
		iface = devs[0].Name
	}

	handle, err := pcap.OpenLive(iface, b.cfg.Snaplen, b.cfg.Promiscuous, b.cfg.ReadTimeoutDuration())
	if err != nil {
		return nil, iface, fmt.Errorf("unable to open capture on %s: %w", iface, err)
	}
	return handle, iface, nil
}

// Close stops any capture and ends every subscription.
func (b *Backend) Close() {
	b.Stop(context.Background())
	b.hub.close()
}

// endOfCapture matches the errors a read returns once the handle has been
// closed by Stop or a savefile ran out.
func endOfCapture(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, pcap.NextErrorNoMorePackets)
}

package livecap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"Go2NetCapture/internal/model"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// StatusRunningTshark is published when the capture runs through the tshark
// subprocess instead of libpcap.
const StatusRunningTshark = "Capture running (tshark)..."

// tsharkFields is the column order parseTsharkLine expects.
var tsharkFields = []string{
	"frame.time_epoch",
	"ip.src", "ip.dst",
	"ipv6.src", "ipv6.dst",
	"_ws.col.Protocol",
	"frame.len",
	"_ws.col.Info",
}

// tsharkPath resolves the configured tshark binary. An empty setting
// disables the fallback.
func (b *Backend) tsharkPath() (string, bool) {
	if b.cfg.Tshark == "" {
		return "", false
	}
	path, err := exec.LookPath(b.cfg.Tshark)
	if err != nil {
		return "", false
	}
	return path, true
}

func tsharkArgs(iface, filter string) []string {
	// -l: flush stdout after each packet
	// -n: disable name resolution
	args := []string{"-l", "-n"}
	if iface != "" {
		args = append(args, "-i", iface)
	}
	args = append(args, "-T", "fields", "-E", "separator=/t", "-E", "quote=n")
	for _, f := range tsharkFields {
		args = append(args, "-e", f)
	}
	if filter != "" {
		args = append(args, "-f", filter)
	}
	return args
}

// startTshark runs tshark as the capture source. Called with b.mu held.
func (b *Backend) startTshark(path, iface, filter string) error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, tsharkArgs(iface, filter)...)
	cmd.WaitDelay = 2 * time.Second

	stderrLog := &zapio.Writer{Log: b.log.Desugar().Named("tshark"), Level: zapcore.DebugLevel}
	tail := &lastLine{}
	cmd.Stderr = io.MultiWriter(stderrLog, tail)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get tshark stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("unable to start tshark: %w", err)
	}

	s := &session{cancel: cancel, done: make(chan struct{})}
	b.running = s

	go func() {
		defer stderrLog.Close()
		b.runTshark(ctx, s, cmd, stdout, tail, iface)
	}()
	b.log.Infow("tshark capture started", "interface", iface, "filter", filter, "path", path)
	return nil
}

func (b *Backend) runTshark(ctx context.Context, s *session, cmd *exec.Cmd, stdout io.Reader, tail *lastLine, iface string) {
	defer close(s.done)

	b.hub.publish(model.StatusEvent(StatusRunningTshark))

	var captured, dropped int
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		dropped += b.hub.publish(model.PacketEvent(parseTsharkLine(line, time.Now())))
		captured++
	}
	readErr := scanner.Err()
	waitErr := cmd.Wait()

	// A cancelled context means Stop ended the process.
	if ctx.Err() == nil {
		switch {
		case readErr != nil:
			b.hub.publish(model.ErrorEvent(fmt.Sprintf("tshark read error: %v", readErr)))
		case waitErr != nil:
			msg := fmt.Sprintf("Capture error: tshark exited: %v", waitErr)
			if last := tail.String(); last != "" {
				msg += " (" + last + ")"
			}
			b.hub.publish(model.ErrorEvent(msg))
		}
	}
	b.log.Infow("tshark capture finished", "interface", iface, "captured", captured, "dropped", dropped, "error", waitErr)

	b.mu.Lock()
	if b.running == s {
		b.running = nil
	}
	b.mu.Unlock()
	b.hub.publish(model.StatusEvent(StatusStopped))
}

// parseTsharkLine maps one tab separated tsharkFields row onto a record.
// Missing columns fall back to placeholders, so any line yields a record.
func parseTsharkLine(line string, now time.Time) model.PacketRecord {
	cols := strings.Split(line, "\t")
	col := func(i int) string {
		if i >= len(cols) {
			return ""
		}
		// Tunnelled frames list every header's value, comma separated.
		v, _, _ := strings.Cut(strings.TrimSpace(cols[i]), ",")
		return v
	}

	rec := model.PacketRecord{
		Time:        model.DisplayTime(now),
		Source:      firstNonEmpty(col(1), col(3), "unknown"),
		Destination: firstNonEmpty(col(2), col(4), "unknown"),
		Protocol:    tsharkProtocol(col(5)),
		Info:        "No info",
	}
	if ts, ok := parseEpoch(col(0)); ok {
		rec.Time = model.DisplayTime(ts)
	}
	if n, err := strconv.ParseUint(col(6), 10, 32); err == nil {
		rec.Length = uint32(n)
	}
	if len(cols) > 7 {
		if info := strings.TrimSpace(strings.Join(cols[7:], " ")); info != "" {
			rec.Info = info
		}
	}
	return rec
}

// tsharkProtocol folds tshark's protocol column onto the filterable labels
// where one applies ("TLSv1.3" is TLS, "ICMPv6" is ICMP).
func tsharkProtocol(name string) model.Protocol {
	upper := strings.ToUpper(name)
	switch {
	case upper == "":
		return "UNKNOWN"
	case strings.HasPrefix(upper, "TLS"), strings.HasPrefix(upper, "SSL"):
		return model.ProtocolTLS
	case strings.HasPrefix(upper, "ICMP"):
		return model.ProtocolICMP
	case strings.HasPrefix(upper, "HTTP"):
		return model.ProtocolHTTP
	}
	if p, err := model.ParseProtocol(upper); err == nil {
		return p
	}
	return model.Protocol(name)
}

// parseEpoch reads "seconds.fraction" without going through float64, which
// would lose the millisecond digit on current timestamps.
func parseEpoch(v string) (time.Time, bool) {
	secStr, frac, _ := strings.Cut(v, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	var nsec int64
	if frac != "" {
		n, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		nsec = n
	}
	return time.Unix(sec, nsec), true
}

// tsharkInterfaces lists devices through "tshark -D", whose lines look like
// "1. eth0 (Ethernet)".
func tsharkInterfaces(ctx context.Context, path string) ([]model.Interface, error) {
	out, err := exec.CommandContext(ctx, path, "-D").Output()
	if err != nil {
		return nil, fmt.Errorf("tshark -D failed: %w", err)
	}
	return parseTsharkInterfaces(string(out)), nil
}

func parseTsharkInterfaces(text string) []model.Interface {
	var out []model.Interface
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		_, rest, ok := strings.Cut(line, ". ")
		if !ok {
			continue
		}
		iface := model.Interface{Name: strings.TrimSpace(rest)}
		if idx := strings.LastIndex(rest, " ("); idx > 0 && strings.HasSuffix(rest, ")") {
			iface.Name = strings.TrimSpace(rest[:idx])
			iface.Description = strings.TrimSpace(rest[idx+2 : len(rest)-1])
		}
		if iface.Name == "" {
			continue
		}
		out = append(out, iface)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// lastLine keeps the last non-empty line written to it.
type lastLine struct {
	mu   sync.Mutex
	line string
}

func (l *lastLine) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range strings.Split(string(p), "\n") {
		if s = strings.TrimSpace(s); s != "" {
			l.line = s
		}
	}
	return len(p), nil
}

func (l *lastLine) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.line
}

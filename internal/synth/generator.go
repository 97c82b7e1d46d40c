// Package synth produces plausible-looking packet summaries when no native
// capture backend is available.
package synth

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"Go2NetCapture/internal/model"
)

const (
	minLength = 64
	maxLength = 1400
	minPort   = 20
	maxPort   = 70000
)

var domains = []string{"example.com", "cyberkit.dev", "updates.local", "cdn.edge.net", "secops.lan"}

// Generator builds one synthetic PacketRecord per call. It is not safe for
// concurrent use; the capture controller drives it from a single goroutine.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand replaces the random source, mainly for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = rng
	}
}

// WithClock replaces the clock used for the display time.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a generator seeded from the runtime source.
func NewGenerator(options ...Option) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// NewSeeded creates a generator with a fixed seed.
func NewSeeded(seed uint64, options ...Option) *Generator {
	return NewGenerator(append([]Option{WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))}, options...)...)
}

// Next synthesizes a record for one of protocols. The second result is false
// when protocols is empty or the record does not contain textFilter
// (case-insensitive, matched against "protocol src dest info").
func (g *Generator) Next(protocols []model.Protocol, textFilter string) (model.PacketRecord, bool) {
	if len(protocols) == 0 {
		return model.PacketRecord{}, false
	}

	src, dest := g.hostPair()
	proto := protocols[g.rng.IntN(len(protocols))]
	length := g.intRange(minLength, maxLength)
	port := g.intRange(minPort, maxPort)

	rec := model.PacketRecord{
		Time:        model.DisplayTime(g.now()),
		Source:      src,
		Destination: dest,
		Protocol:    proto,
		Length:      uint32(length),
		Info:        g.info(proto, src, dest, length, port),
	}

	if filter := strings.TrimSpace(textFilter); filter != "" {
		haystack := strings.ToLower(fmt.Sprintf("%s %s %s %s", rec.Protocol, rec.Source, rec.Destination, rec.Info))
		if !strings.Contains(haystack, strings.ToLower(filter)) {
			return model.PacketRecord{}, false
		}
	}
	return rec, true
}

func (g *Generator) info(proto model.Protocol, src, dest string, length, port int) string {
	var candidates []string
	switch proto {
	case model.ProtocolTCP:
		candidates = []string{
			fmt.Sprintf("SYN to %d", port),
			fmt.Sprintf("ACK %d", port),
			fmt.Sprintf("TLS data :%d", port),
			fmt.Sprintf("RST from %d", port),
		}
	case model.ProtocolUDP:
		candidates = []string{
			fmt.Sprintf("Len %d -> %d", length-20, port),
			fmt.Sprintf("Datagram to %d", port),
			fmt.Sprintf("Probe to %d", port),
		}
	case model.ProtocolICMP:
		candidates = []string{
			fmt.Sprintf("Echo request id=0x%x", g.intRange(1000, 9999)),
			"Echo reply",
			"Time exceeded",
		}
	case model.ProtocolARP:
		candidates = []string{
			fmt.Sprintf("Who has %s? Tell %s", dest, src),
			fmt.Sprintf("Announce %s", src),
		}
	case model.ProtocolDNS:
		candidates = []string{
			"Query A " + g.domain(),
			"Query AAAA " + g.domain(),
			fmt.Sprintf("Response 93.184.216.%d", g.intRange(1, 254)),
		}
	case model.ProtocolTLS:
		candidates = []string{
			"ClientHello SNI " + g.domain(),
			"Application Data",
			"ChangeCipherSpec",
		}
	case model.ProtocolHTTP:
		candidates = []string{
			"GET /login 200",
			"POST /api/session 204",
			"WebSocket upgrade",
			"HTTP/1.1 302 redirect",
		}
	default:
		return fmt.Sprintf("Traffic on %d", port)
	}
	return candidates[g.rng.IntN(len(candidates))]
}

// hostPair returns one private and one public-looking address, in random order.
func (g *Generator) hostPair() (string, string) {
	inside := g.privateIP()
	outside := g.publicIP()
	if g.rng.IntN(2) == 0 {
		return inside, outside
	}
	return outside, inside
}

func (g *Generator) privateIP() string {
	switch g.rng.IntN(3) {
	case 0:
		return fmt.Sprintf("10.%d.%d.%d", g.intRange(0, 255), g.intRange(0, 255), g.intRange(1, 254))
	case 1:
		return fmt.Sprintf("192.168.%d.%d", g.intRange(0, 1), g.intRange(1, 254))
	default:
		return fmt.Sprintf("172.%d.%d.%d", g.intRange(16, 31), g.intRange(0, 255), g.intRange(1, 254))
	}
}

func (g *Generator) publicIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", g.intRange(20, 223), g.intRange(0, 255), g.intRange(0, 255), g.intRange(1, 254))
}

func (g *Generator) domain() string {
	return domains[g.rng.IntN(len(domains))]
}

// intRange returns a uniform integer in [min, max].
func (g *Generator) intRange(min, max int) int {
	return min + g.rng.IntN(max-min+1)
}

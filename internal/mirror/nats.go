// Package mirror pushes the saved-capture list to remote sinks.
package mirror

import (
	"context"
	"fmt"
	"strings"

	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NATSMirror publishes the full list of an identity on
// <subject>.<identity> after every change.
type NATSMirror struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger
}

// NewNATSMirror connects to the NATS server.
func NewNATSMirror(cfg config.NATSMirrorConfig, log *zap.SugaredLogger) (*NATSMirror, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("nc-capture-mirror"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Infow("connected to NATS server for saved capture mirror", "url", cfg.URL, "subject", cfg.Subject)
	return &NATSMirror{nc: nc, subject: strings.TrimSuffix(cfg.Subject, "."), log: log}, nil
}

// Name implements store.Mirror.
func (m *NATSMirror) Name() string {
	return "nats"
}

// Sync implements store.Mirror.
func (m *NATSMirror) Sync(ctx context.Context, identity string, captures []model.SavedCapture) error {
	data, err := EncodeCaptures(identity, captures)
	if err != nil {
		return err
	}
	subject := SubjectFor(m.subject, identity)
	if err := m.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	// Flush so a broken connection surfaces here rather than being lost.
	return m.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (m *NATSMirror) Close() error {
	return m.nc.Drain()
}

// SubjectFor builds the publish subject, replacing characters that are
// not allowed inside a single NATS subject token.
func SubjectFor(prefix, identity string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, identity)
	if token == "" {
		token = "default"
	}
	return prefix + "." + token
}

// EncodeCaptures serializes a saved-capture list as a protobuf Struct.
func EncodeCaptures(identity string, captures []model.SavedCapture) ([]byte, error) {
	list := make([]any, len(captures))
	for i, c := range captures {
		packets := make([]any, len(c.Packets))
		for j, p := range c.Packets {
			packets[j] = map[string]any{
				"time":     p.Time,
				"src":      p.Source,
				"dest":     p.Destination,
				"protocol": string(p.Protocol),
				"length":   float64(p.Length),
				"info":     p.Info,
			}
		}
		list[i] = map[string]any{
			"id":      c.ID,
			"label":   c.Label,
			"savedAt": c.SavedAt,
			"packets": packets,
		}
	}
	s, err := structpb.NewStruct(map[string]any{
		"identity": identity,
		"captures": list,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build mirror payload: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeCaptures parses a payload written by EncodeCaptures.
func DecodeCaptures(data []byte) (string, []model.SavedCapture, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal mirror payload: %w", err)
	}
	m := s.AsMap()
	identity, _ := m["identity"].(string)
	raw, _ := m["captures"].([]any)

	captures := make([]model.SavedCapture, 0, len(raw))
	for _, v := range raw {
		c, ok := v.(map[string]any)
		if !ok {
			continue
		}
		sc := model.SavedCapture{Packets: []model.PacketRecord{}}
		sc.ID, _ = c["id"].(string)
		sc.Label, _ = c["label"].(string)
		sc.SavedAt, _ = c["savedAt"].(string)
		packets, _ := c["packets"].([]any)
		for _, pv := range packets {
			p, ok := pv.(map[string]any)
			if !ok {
				continue
			}
			var rec model.PacketRecord
			rec.Time, _ = p["time"].(string)
			rec.Source, _ = p["src"].(string)
			rec.Destination, _ = p["dest"].(string)
			name, _ := p["protocol"].(string)
			rec.Protocol = model.Protocol(name)
			length, _ := p["length"].(float64)
			rec.Length = uint32(length)
			rec.Info, _ = p["info"].(string)
			sc.Packets = append(sc.Packets, rec)
		}
		captures = append(captures, sc)
	}
	return identity, captures, nil
}

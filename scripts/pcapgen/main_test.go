package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"Go2NetCapture/internal/model"
	"Go2NetCapture/internal/protocol"
	"Go2NetCapture/internal/synth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFrame_DissectsToSameProtocol(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	gen := synth.NewSeeded(3)

	for _, p := range model.KnownProtocols {
		t.Run(string(p), func(t *testing.T) {
			rec, ok := gen.Next([]model.Protocol{p}, "")
			require.True(t, ok)

			frame, err := buildFrame(rec, rng)
			require.NoError(t, err)

			got := protocol.Summarize(frame, time.Now())
			assert.Equal(t, p, got.Protocol)
			assert.Equal(t, rec.Source, got.Source)
			assert.Equal(t, rec.Destination, got.Destination)
		})
	}
}

func TestBuildFrame_PadsTowardRecordLength(t *testing.T) {
	tests := []struct {
		name   string
		proto  model.Protocol
		length uint32
		want   int
	}{
		{"tcp", model.ProtocolTCP, 900, 900},
		{"udp", model.ProtocolUDP, 900, 900},
		{"icmp", model.ProtocolICMP, 900, 900},
		{"udp just above minimum", model.ProtocolUDP, 64, 64},
		{"icmp below minimum", model.ProtocolICMP, 40, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := model.PacketRecord{Source: "10.0.0.1", Destination: "8.8.4.4", Protocol: tt.proto, Length: tt.length}
			frame, err := buildFrame(rec, rand.New(rand.NewPCG(1, 2)))
			require.NoError(t, err)
			assert.Len(t, frame, tt.want)
		})
	}
}

func TestBuildFrame_RejectsNonIPv4(t *testing.T) {
	_, err := buildFrame(model.PacketRecord{Source: "fe80::1", Destination: "10.0.0.1", Protocol: model.ProtocolUDP}, rand.New(rand.NewPCG(1, 2)))
	assert.Error(t, err)
}

func TestDNSQuestion(t *testing.T) {
	qtype, name := dnsQuestion("Query AAAA cdn.example.net")
	assert.Equal(t, "AAAA", qtype.String())
	assert.Equal(t, "cdn.example.net", name)

	_, name = dnsQuestion("Response 93.184.216.7")
	assert.Equal(t, "example.com", name)
}

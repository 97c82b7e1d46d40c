package model

import (
	"fmt"
	"strings"
	"time"
)

// Protocol labels a captured packet. Filters only accept the known members
// below; records dissected from real traffic may carry other labels.
type Protocol string

const (
	ProtocolTCP  Protocol = "TCP"
	ProtocolUDP  Protocol = "UDP"
	ProtocolICMP Protocol = "ICMP"
	ProtocolARP  Protocol = "ARP"
	ProtocolDNS  Protocol = "DNS"
	ProtocolTLS  Protocol = "TLS"
	ProtocolHTTP Protocol = "HTTP"
)

// KnownProtocols lists the filterable protocols in display order.
var KnownProtocols = []Protocol{
	ProtocolTCP,
	ProtocolUDP,
	ProtocolICMP,
	ProtocolARP,
	ProtocolDNS,
	ProtocolTLS,
	ProtocolHTTP,
}

// Known reports whether p is one of the filterable protocols.
func (p Protocol) Known() bool {
	for _, k := range KnownProtocols {
		if p == k {
			return true
		}
	}
	return false
}

// ParseProtocol maps a case-insensitive name onto a known protocol.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Known() {
		return "", fmt.Errorf("unknown protocol %q", s)
	}
	return p, nil
}

// PacketRecord is the summary of one captured (or synthesized) packet.
// It is treated as immutable once created.
type PacketRecord struct {
	Time        string   `json:"time"`
	Source      string   `json:"src"`
	Destination string   `json:"dest"`
	Protocol    Protocol `json:"protocol"`
	Length      uint32   `json:"length"`
	Info        string   `json:"info"`
}

// DisplayTime formats t the way packet rows show it (HH:MM:SS.mmm).
func DisplayTime(t time.Time) string {
	return t.Format("15:04:05.000")
}

// MaxPackets bounds the live buffer and every saved snapshot.
const MaxPackets = 240

// MaxSavedCaptures bounds how many snapshots the store retains.
const MaxSavedCaptures = 10

// SavedCapture is a named, durable copy of a capture buffer.
type SavedCapture struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Packets []PacketRecord `json:"packets"`
	SavedAt string         `json:"savedAt"`
}

// SavedCaptureSummary is the list view of a SavedCapture.
type SavedCaptureSummary struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	SavedAt     string `json:"savedAt"`
	PacketCount int    `json:"packetCount"`
}

// Summary returns the list view of c.
func (c SavedCapture) Summary() SavedCaptureSummary {
	return SavedCaptureSummary{
		ID:          c.ID,
		Label:       c.Label,
		SavedAt:     c.SavedAt,
		PacketCount: len(c.Packets),
	}
}

// Interface describes a capture device offered by a native backend.
type Interface struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Readiness is the result of probing a native backend.
type Readiness struct {
	Installed bool   `json:"installed"`
	Message   string `json:"message"`
}

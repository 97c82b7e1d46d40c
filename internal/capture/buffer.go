package capture

import (
	"fmt"
	"sync"
	"time"

	"Go2NetCapture/internal/model"

	"github.com/c2h5oh/datasize"
)

// MaxPackets is the capacity of the packet buffer.
const MaxPackets = model.MaxPackets

// DefaultWindow is the number of rows a live view shows.
const DefaultWindow = 80

// Buffer holds the most recent packets, newest first. It is backed by a
// fixed ring so inserting never shifts the retained records.
type Buffer struct {
	mu    sync.RWMutex
	ring  [MaxPackets]model.PacketRecord
	head  int // index of the newest record
	count int
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Insert prepends r, dropping the oldest record once the buffer is full.
func (b *Buffer) Insert(r model.PacketRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertLocked(r)
}

func (b *Buffer) insertLocked(r model.PacketRecord) {
	b.head = (b.head - 1 + MaxPackets) % MaxPackets
	b.ring[b.head] = r
	if b.count < MaxPackets {
		b.count++
	}
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Windowed returns up to n of the most recent records, newest first,
// copying only those records.
func (b *Buffer) Windowed(n int) []model.PacketRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLocked(n)
}

// Snapshot returns a copy of every retained record, newest first.
func (b *Buffer) Snapshot() []model.PacketRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLocked(b.count)
}

func (b *Buffer) copyLocked(n int) []model.PacketRecord {
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return []model.PacketRecord{}
	}
	out := make([]model.PacketRecord, n)
	for i := 0; i < n; i++ {
		out[i] = b.ring[(b.head+i)%MaxPackets]
	}
	return out
}

// Replace installs records (newest first), keeping at most MaxPackets.
func (b *Buffer) Replace(records []model.PacketRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	if len(records) > MaxPackets {
		records = records[:MaxPackets]
	}
	for i := len(records) - 1; i >= 0; i-- {
		b.insertLocked(records[i])
	}
}

// Reset drops every record.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Buffer) resetLocked() {
	b.ring = [MaxPackets]model.PacketRecord{}
	b.head = 0
	b.count = 0
}

// ProtocolCount is one entry of the per-protocol histogram.
type ProtocolCount struct {
	Protocol model.Protocol `json:"protocol"`
	Count    int            `json:"count"`
}

// Stats summarizes the buffer contents.
type Stats struct {
	Packets          int             `json:"packets"`
	Counts           []ProtocolCount `json:"counts"`
	TotalBytes       uint64          `json:"totalBytes"`
	DataMoved        string          `json:"dataMoved"`
	PacketsPerSecond float64         `json:"packetsPerSecond"`
	BitsPerSecond    float64         `json:"bitsPerSecond"`
	TopProtocol      model.Protocol  `json:"topProtocol,omitempty"`
	TopCount         int             `json:"topCount"`
	Summary          string          `json:"summary"`
}

// Count returns how many records carry protocol p.
func (s Stats) Count(p model.Protocol) int {
	for _, c := range s.Counts {
		if c.Protocol == p {
			return c.Count
		}
	}
	return 0
}

// Stats computes the histogram and rates against max(1s, elapsed).
// Counts are ordered by first appearance from the newest record, which
// also breaks ties for the top protocol.
func (b *Buffer) Stats(elapsed time.Duration) Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Packets: b.count, Counts: []ProtocolCount{}}
	index := make(map[model.Protocol]int)
	for i := 0; i < b.count; i++ {
		r := b.ring[(b.head+i)%MaxPackets]
		st.TotalBytes += uint64(r.Length)
		pos, ok := index[r.Protocol]
		if !ok {
			pos = len(st.Counts)
			index[r.Protocol] = pos
			st.Counts = append(st.Counts, ProtocolCount{Protocol: r.Protocol})
		}
		st.Counts[pos].Count++
	}

	for _, c := range st.Counts {
		if c.Count > st.TopCount {
			st.TopProtocol = c.Protocol
			st.TopCount = c.Count
		}
	}

	seconds := elapsed.Seconds()
	if seconds < 1 {
		seconds = 1
	}
	st.PacketsPerSecond = float64(st.Packets) / seconds
	st.BitsPerSecond = float64(st.TotalBytes*8) / seconds
	st.DataMoved = datasize.ByteSize(st.TotalBytes).HR()

	top := string(st.TopProtocol)
	if top == "" {
		top = "-"
	}
	st.Summary = fmt.Sprintf("Packets: %d, Top: %s, Bytes: %d", st.Packets, top, st.TotalBytes)
	return st
}

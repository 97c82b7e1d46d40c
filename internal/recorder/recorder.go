// Package recorder tees raw captured frames into a pcap file.
package recorder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// DefaultChannelSize is used when no channel size is configured.
const DefaultChannelSize = 10000

type frame struct {
	ci   gopacket.CaptureInfo
	data []byte
}

// Recorder writes frames to a pcap file from a single goroutine so that
// records keep their arrival order.
type Recorder struct {
	frames  chan frame
	done    chan struct{}
	once    sync.Once
	path    string
	dropped atomic.Uint64
	written atomic.Uint64
	log     *zap.SugaredLogger
}

// New creates <dir>/<timestamp>.pcap and starts the writer goroutine.
func New(dir string, snaplen uint32, linkType layers.LinkType, channelSize int, log *zap.SugaredLogger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	if channelSize <= 0 {
		channelSize = DefaultChannelSize
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05.000")+".pcap")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}

	buffered := bufio.NewWriter(file)
	w := pcapgo.NewWriter(buffered)
	if err := w.WriteFileHeader(snaplen, linkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap file header: %w", err)
	}

	r := &Recorder{
		frames: make(chan frame, channelSize),
		done:   make(chan struct{}),
		path:   path,
		log:    log,
	}
	go r.run(w, buffered, file)

	log.Infow("raw frame recorder started", "path", path, "snaplen", snaplen, "link_type", linkType)
	return r, nil
}

func (r *Recorder) run(w *pcapgo.Writer, buffered *bufio.Writer, file *os.File) {
	defer close(r.done)

	for f := range r.frames {
		if err := w.WritePacket(f.ci, f.data); err != nil {
			r.log.Warnw("failed to record frame", "path", r.path, "error", err)
			continue
		}
		r.written.Add(1)
	}

	if err := buffered.Flush(); err != nil {
		r.log.Warnw("failed to flush record file", "path", r.path, "error", err)
	}
	if err := file.Close(); err != nil {
		r.log.Warnw("failed to close record file", "path", r.path, "error", err)
	}
	r.log.Infow("raw frame recorder stopped", "path", r.path, "written", r.written.Load(), "dropped", r.dropped.Load())
}

// Record queues a frame. It never blocks; frames are dropped while the
// queue is full.
func (r *Recorder) Record(ci gopacket.CaptureInfo, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case r.frames <- frame{ci: ci, data: buf}:
	default:
		r.dropped.Add(1)
	}
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// Dropped returns how many frames were discarded.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes the queued frames and closes the file. Record must not be
// called after Close.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.frames)
	})
	<-r.done
}

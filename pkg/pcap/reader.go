package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"Go2NetCapture/internal/model"
	"Go2NetCapture/internal/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Format names the container of a capture file.
type Format string

const (
	FormatPcap   Format = "pcap"
	FormatPcapng Format = "pcapng"
)

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Record is one packet as stored in a capture file.
type Record struct {
	Timestamp     time.Time
	CaptureLength int
	Length        int
	Data          []byte
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	file   *os.File
	source packetDataSource
	format Format
}

// NewReader creates a new reader for the given file path. The container
// format is detected from the leading magic number.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := NewReaderFrom(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReaderFrom wraps an already open stream.
func NewReaderFrom(in io.Reader) (*Reader, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture magic: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == BlockTypeSectionHeader {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng stream: %w", err)
		}
		return &Reader{source: ng, format: FormatPcapng}, nil
	}

	classic, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap stream: %w", err)
	}
	return &Reader{source: classic, format: FormatPcap}, nil
}

// Format reports the detected container format.
func (r *Reader) Format() Format {
	return r.format
}

// LinkType reports the link type of the (first) interface.
func (r *Reader) LinkType() layers.LinkType {
	return r.source.LinkType()
}

// Close closes the underlying file, if the reader opened one.
func (r *Reader) Close() {
	if r.file != nil {
		r.file.Close()
	}
}

// ReadRecords reads every remaining record.
func (r *Reader) ReadRecords() ([]Record, error) {
	var records []Record
	for {
		data, ci, err := r.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("failed to read record %d: %w", len(records), err)
		}
		records = append(records, Record{
			Timestamp:     ci.Timestamp,
			CaptureLength: ci.CaptureLength,
			Length:        ci.Length,
			Data:          append([]byte(nil), data...),
		})
	}
}

// ReadPackets reads all packets from the file and sends the dissected
// PacketRecord to the provided channel. It closes the channel when done.
func (r *Reader) ReadPackets(out chan<- model.PacketRecord) error {
	defer close(out)

	for {
		data, ci, err := r.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		out <- protocol.Summarize(data, ci.Timestamp)
	}
}

package pcap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"Go2NetCapture/internal/model"

	"github.com/google/gopacket/layers"
)

const (
	// PlaceholderCapLen is the captured and original length written for every
	// record. Records only carry summaries, so the payload is zero-filled.
	PlaceholderCapLen = 60
	// DefaultSnaplen is the snapshot length advertised in file headers.
	DefaultSnaplen = 65535

	pcapMagic        = 0xa1b2c3d4
	pcapVersionMajor = 2
	pcapVersionMinor = 4

	GlobalHeaderLen = 24
	RecordHeaderLen = 16
)

var placeholderPayload [PlaceholderCapLen]byte

// Writer produces classic libpcap files in big-endian byte order.
type Writer struct {
	w   io.Writer
	buf [GlobalHeaderLen]byte
}

// NewWriter returns a Writer emitting to w. Call WriteFileHeader first.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFileHeader writes the 24-byte global header.
func (w *Writer) WriteFileHeader(snaplen uint32, linkType layers.LinkType) error {
	b := w.buf[:GlobalHeaderLen]
	binary.BigEndian.PutUint32(b[0:4], pcapMagic)
	binary.BigEndian.PutUint16(b[4:6], pcapVersionMajor)
	binary.BigEndian.PutUint16(b[6:8], pcapVersionMinor)
	binary.BigEndian.PutUint32(b[8:12], 0)  // thiszone
	binary.BigEndian.PutUint32(b[12:16], 0) // sigfigs
	binary.BigEndian.PutUint32(b[16:20], snaplen)
	binary.BigEndian.PutUint32(b[20:24], uint32(linkType))
	_, err := w.w.Write(b)
	return err
}

// WriteRecord writes one record header stamped with ts followed by the
// zero-filled placeholder payload.
func (w *Writer) WriteRecord(ts time.Time) error {
	b := w.buf[:RecordHeaderLen]
	binary.BigEndian.PutUint32(b[0:4], uint32(ts.Unix()))
	binary.BigEndian.PutUint32(b[4:8], uint32(ts.Nanosecond()/1000))
	binary.BigEndian.PutUint32(b[8:12], PlaceholderCapLen)
	binary.BigEndian.PutUint32(b[12:16], PlaceholderCapLen)
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	_, err := w.w.Write(placeholderPayload[:])
	return err
}

// EncodePcap serializes packets as a classic pcap file. Record timestamps
// start at start and advance by one millisecond per packet.
func EncodePcap(packets []model.PacketRecord, start time.Time) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(GlobalHeaderLen + len(packets)*(RecordHeaderLen+PlaceholderCapLen))

	w := NewWriter(&buf)
	if err := w.WriteFileHeader(DefaultSnaplen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	for i := range packets {
		if err := w.WriteRecord(recordTime(start, i)); err != nil {
			return nil, fmt.Errorf("failed to write pcap record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// recordTime is the timestamp of the idx-th record of an encode run.
func recordTime(start time.Time, idx int) time.Time {
	return start.Add(time.Duration(idx) * time.Millisecond)
}

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

// pcapng block types.
const (
	BlockTypeSectionHeader        = 0x0A0D0D0A
	BlockTypeInterfaceDescription = 0x00000001
	BlockTypeEnhancedPacket       = 0x00000006

	ngByteOrderMagic = 0x1a2b3c4d

	ngOptionEndOfOpt = 0
	ngOptionTSResol  = 9

	// tsResolMicro advertises 10^-6 second timestamp units.
	tsResolMicro = 6

	// blockFrameLen is type + leading length + trailing length.
	blockFrameLen = 12
)

// NgWriter produces pcapng files in little-endian byte order with one
// Ethernet interface and microsecond timestamps.
type NgWriter struct {
	w io.Writer
}

// NewNgWriter writes the section header and interface description blocks and
// returns a writer ready for packet records.
func NewNgWriter(w io.Writer, snaplen uint32, linkType layers.LinkType) (*NgWriter, error) {
	ng := &NgWriter{w: w}

	shb := make([]byte, 16)
	binary.LittleEndian.PutUint32(shb[0:4], ngByteOrderMagic)
	binary.LittleEndian.PutUint16(shb[4:6], 1) // major
	binary.LittleEndian.PutUint16(shb[6:8], 0) // minor
	binary.LittleEndian.PutUint64(shb[8:16], 0xffffffffffffffff)
	if err := ng.writeBlock(BlockTypeSectionHeader, shb); err != nil {
		return nil, fmt.Errorf("failed to write section header block: %w", err)
	}

	idb := make([]byte, 20)
	binary.LittleEndian.PutUint16(idb[0:2], uint16(linkType))
	binary.LittleEndian.PutUint16(idb[2:4], 0) // reserved
	binary.LittleEndian.PutUint32(idb[4:8], snaplen)
	binary.LittleEndian.PutUint16(idb[8:10], ngOptionTSResol)
	binary.LittleEndian.PutUint16(idb[10:12], 1)
	idb[12] = tsResolMicro
	// idb[13:16] pads the option value, idb[16:20] is opt_endofopt.
	binary.LittleEndian.PutUint16(idb[16:18], ngOptionEndOfOpt)
	if err := ng.writeBlock(BlockTypeInterfaceDescription, idb); err != nil {
		return nil, fmt.Errorf("failed to write interface description block: %w", err)
	}

	return ng, nil
}

// WriteRecord writes one enhanced packet block stamped with ts and carrying the
// zero-filled placeholder payload.
func (ng *NgWriter) WriteRecord(ts time.Time) error {
	body := make([]byte, 20+PlaceholderCapLen)
	micros := uint64(ts.UnixMicro())
	binary.LittleEndian.PutUint32(body[0:4], 0) // interface id
	binary.LittleEndian.PutUint32(body[4:8], uint32(micros>>32))
	binary.LittleEndian.PutUint32(body[8:12], uint32(micros))
	binary.LittleEndian.PutUint32(body[12:16], PlaceholderCapLen)
	binary.LittleEndian.PutUint32(body[16:20], PlaceholderCapLen)
	return ng.writeBlock(BlockTypeEnhancedPacket, body)
}

// writeBlock frames body as [type][len][body][pad][len].
func (ng *NgWriter) writeBlock(blockType uint32, body []byte) error {
	pad := (4 - len(body)%4) % 4
	total := blockFrameLen + len(body) + pad

	block := make([]byte, total)
	binary.LittleEndian.PutUint32(block[0:4], blockType)
	binary.LittleEndian.PutUint32(block[4:8], uint32(total))
	copy(block[8:], body)
	binary.LittleEndian.PutUint32(block[total-4:], uint32(total))

	_, err := ng.w.Write(block)
	return err
}

// EncodePcapng serializes packets as a pcapng section. Packet timestamps start
// at start and advance by one millisecond per packet.
func EncodePcapng(packets []model.PacketRecord, start time.Time) ([]byte, error) {
	var buf bytes.Buffer

	ng, err := NewNgWriter(&buf, DefaultSnaplen, layers.LinkTypeEthernet)
	if err != nil {
		return nil, err
	}
	for i := range packets {
		if err := ng.WriteRecord(recordTime(start, i)); err != nil {
			return nil, fmt.Errorf("failed to write enhanced packet block %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

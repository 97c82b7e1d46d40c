package pcap

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"Go2NetCapture/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var encodeStart = time.Date(2026, 10, 18, 12, 0, 0, 999_500_000, time.UTC)

func samplePackets(n int) []model.PacketRecord {
	packets := make([]model.PacketRecord, n)
	for i := range packets {
		packets[i] = model.PacketRecord{
			Time:        "12:00:00.000",
			Source:      "10.0.0.1",
			Destination: "93.184.216.34",
			Protocol:    model.ProtocolTCP,
			Length:      uint32(64 + i),
			Info:        "SYN to 443",
		}
	}
	return packets
}

func TestEncodePcap_GlobalHeader(t *testing.T) {
	out, err := EncodePcap(samplePackets(1), encodeStart)
	require.NoError(t, err)

	want := []byte{
		0xa1, 0xb2, 0xc3, 0xd4, // magic
		0x00, 0x02, 0x00, 0x04, // version 2.4
		0x00, 0x00, 0x00, 0x00, // thiszone
		0x00, 0x00, 0x00, 0x00, // sigfigs
		0x00, 0x00, 0xff, 0xff, // snaplen
		0x00, 0x00, 0x00, 0x01, // ethernet
	}
	assert.Equal(t, want, out[:GlobalHeaderLen])
}

func TestEncodePcap_Length(t *testing.T) {
	for _, n := range []int{0, 1, 5, 240} {
		out, err := EncodePcap(samplePackets(n), encodeStart)
		require.NoError(t, err)
		assert.Len(t, out, GlobalHeaderLen+n*(RecordHeaderLen+PlaceholderCapLen), "n=%d", n)
	}
}

func TestEncodePcap_RecordHeaders(t *testing.T) {
	out, err := EncodePcap(samplePackets(3), encodeStart)
	require.NoError(t, err)

	var prev time.Time
	for i := 0; i < 3; i++ {
		off := GlobalHeaderLen + i*(RecordHeaderLen+PlaceholderCapLen)
		sec := binary.BigEndian.Uint32(out[off : off+4])
		usec := binary.BigEndian.Uint32(out[off+4 : off+8])
		assert.Equal(t, uint32(PlaceholderCapLen), binary.BigEndian.Uint32(out[off+8:off+12]))
		assert.Equal(t, uint32(PlaceholderCapLen), binary.BigEndian.Uint32(out[off+12:off+16]))
		assert.Less(t, usec, uint32(1_000_000))

		ts := time.Unix(int64(sec), int64(usec)*1000)
		if i > 0 {
			assert.Equal(t, time.Millisecond, ts.Sub(prev))
		}
		prev = ts

		payload := out[off+RecordHeaderLen : off+RecordHeaderLen+PlaceholderCapLen]
		assert.Equal(t, make([]byte, PlaceholderCapLen), payload)
	}
	// The second record crosses a second boundary.
	assert.Equal(t, uint32(encodeStart.Unix()+1), binary.BigEndian.Uint32(out[GlobalHeaderLen+RecordHeaderLen+PlaceholderCapLen:]))
}

// walkBlocks checks the framing of every pcapng block and returns their types.
func walkBlocks(t *testing.T, data []byte) []uint32 {
	t.Helper()
	var types []uint32
	for off := 0; off < len(data); {
		require.GreaterOrEqual(t, len(data)-off, blockFrameLen, "truncated block at %d", off)
		blockType := binary.LittleEndian.Uint32(data[off:])
		leading := binary.LittleEndian.Uint32(data[off+4:])
		require.Zero(t, leading%4, "block at %d not aligned", off)
		require.LessOrEqual(t, off+int(leading), len(data))
		trailing := binary.LittleEndian.Uint32(data[off+int(leading)-4:])
		require.Equal(t, leading, trailing, "block at %d", off)
		types = append(types, blockType)
		off += int(leading)
	}
	return types
}

func TestEncodePcapng_Framing(t *testing.T) {
	out, err := EncodePcapng(samplePackets(4), encodeStart)
	require.NoError(t, err)

	assert.Equal(t, uint32(BlockTypeSectionHeader), binary.LittleEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(ngByteOrderMagic), binary.LittleEndian.Uint32(out[8:12]))
	assert.Equal(t, uint64(0xffffffffffffffff), binary.LittleEndian.Uint64(out[16:24]))

	types := walkBlocks(t, out)
	assert.Equal(t, []uint32{
		BlockTypeSectionHeader,
		BlockTypeInterfaceDescription,
		BlockTypeEnhancedPacket,
		BlockTypeEnhancedPacket,
		BlockTypeEnhancedPacket,
		BlockTypeEnhancedPacket,
	}, types)
}

func TestEncodePcapng_EnhancedPacketBlock(t *testing.T) {
	out, err := EncodePcapng(samplePackets(1), encodeStart)
	require.NoError(t, err)

	// SHB is 28 bytes, IDB is 32 bytes.
	epb := out[60:]
	require.Len(t, epb, 92)
	body := epb[8:]
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(body[0:4]))
	micros := uint64(binary.LittleEndian.Uint32(body[4:8]))<<32 | uint64(binary.LittleEndian.Uint32(body[8:12]))
	assert.Equal(t, uint64(encodeStart.UnixMicro()), micros)
	assert.Equal(t, uint32(PlaceholderCapLen), binary.LittleEndian.Uint32(body[12:16]))
	assert.Equal(t, uint32(PlaceholderCapLen), binary.LittleEndian.Uint32(body[16:20]))
	assert.Equal(t, make([]byte, PlaceholderCapLen), body[20:20+PlaceholderCapLen])
}

func TestEncodePcapng_Empty(t *testing.T) {
	out, err := EncodePcapng(nil, encodeStart)
	require.NoError(t, err)
	assert.Len(t, out, 60)
	assert.Len(t, walkBlocks(t, out), 2)
}

func TestReader_ReadsEncodedFiles(t *testing.T) {
	packets := samplePackets(3)

	classic, err := EncodePcap(packets, encodeStart)
	require.NoError(t, err)
	ng, err := EncodePcapng(packets, encodeStart)
	require.NoError(t, err)

	for format, data := range map[Format][]byte{FormatPcap: classic, FormatPcapng: ng} {
		t.Run(string(format), func(t *testing.T) {
			r, err := NewReaderFrom(bytes.NewReader(data))
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, format, r.Format())
			records, err := r.ReadRecords()
			require.NoError(t, err)
			require.Len(t, records, len(packets))
			for i, rec := range records {
				assert.Equal(t, PlaceholderCapLen, rec.CaptureLength)
				assert.Equal(t, PlaceholderCapLen, rec.Length)
				assert.True(t, rec.Timestamp.Equal(recordTime(encodeStart, i)), "record %d at %s", i, rec.Timestamp)
			}
		})
	}
}

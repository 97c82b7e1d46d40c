// Package export turns a list of packet records into a downloadable file.
package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Go2NetCapture/internal/model"
	"Go2NetCapture/pkg/pcap"
)

// Format is an export file format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatPcap   Format = "pcap"
	FormatPcapng Format = "pcapng"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatPcap, FormatPcapng}

// NoPacketsStatus is reported instead of an artifact for an empty buffer.
const NoPacketsStatus = "No packets to export."

var csvHeader = []string{"time", "src", "dest", "protocol", "length", "info"}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", &model.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", s)}
}

// MIMEType returns the content type of files in format f.
func (f Format) MIMEType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatPcap:
		return "application/vnd.tcpdump.pcap"
	default:
		return "application/octet-stream"
	}
}

// Artifact is one exported file.
type Artifact struct {
	Filename string
	MIMEType string
	Data     []byte
	Status   string
}

// Pipeline encodes packet lists. The clock sets both the file name and
// the pcap record timestamps.
type Pipeline struct {
	now func() time.Time
}

// NewPipeline creates a pipeline. A nil clock means time.Now.
func NewPipeline(now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{now: now}
}

// Export encodes packets (newest first, as buffered) into format. An empty
// list yields model.ErrNoPackets and no artifact.
func (p *Pipeline) Export(packets []model.PacketRecord, format Format) (*Artifact, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, model.ErrNoPackets
	}

	now := p.now()
	var (
		data   []byte
		err    error
		status string
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(packets, "", "  ")
		status = "Exported capture as JSON."
	case FormatCSV:
		data = EncodeCSV(packets)
		status = "Exported capture as CSV."
	case FormatPcap:
		data, err = pcap.EncodePcap(packets, now)
		status = fmt.Sprintf("Exported capture as %s.", format)
	case FormatPcapng:
		data, err = pcap.EncodePcapng(packets, now)
		status = fmt.Sprintf("Exported capture as %s.", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s export: %w", format, err)
	}

	return &Artifact{
		Filename: fmt.Sprintf("capture-%d.%s", now.UnixMilli(), format),
		MIMEType: format.MIMEType(),
		Data:     data,
		Status:   status,
	}, nil
}

// EncodeCSV renders packets with every field double-quoted and inner
// quotes doubled. Rows are joined by a bare newline with no trailing one.
func EncodeCSV(packets []model.PacketRecord) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	for _, r := range packets {
		b.WriteByte('\n')
		fields := []string{
			r.Time,
			r.Source,
			r.Destination,
			string(r.Protocol),
			strconv.FormatUint(uint64(r.Length), 10),
			r.Info,
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
		}
	}
	return []byte(b.String())
}

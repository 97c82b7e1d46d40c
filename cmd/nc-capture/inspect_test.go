package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Go2NetCapture/internal/model"
	"Go2NetCapture/pkg/pcap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, n int) string {
	t.Helper()
	records := make([]model.PacketRecord, n)
	for i := range records {
		records[i] = model.PacketRecord{Protocol: model.ProtocolTCP, Length: 60}
	}
	data, err := pcap.EncodePcap(records, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "in.pcap")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestInspect(t *testing.T) {
	path := writeCapture(t, 3)

	var out bytes.Buffer
	require.NoError(t, runInspect(&out, path, inspectOptions{Limit: 2}))

	text := out.String()
	assert.Contains(t, text, "Read 3 packets, keeping the newest 3")
	assert.Contains(t, text, "Packets: 3, Top: 0x0000")
	table := text[strings.Index(text, "TIME"):]
	assert.Equal(t, 3, strings.Count(table, "\n"), "header plus two rows")
}

func TestInspect_Export(t *testing.T) {
	path := writeCapture(t, 4)
	target := filepath.Join(t.TempDir(), "out.json")

	var out bytes.Buffer
	require.NoError(t, runInspect(&out, path, inspectOptions{ExportFormat: "JSON", Output: target}))
	assert.Contains(t, out.String(), "Exported capture as JSON. Wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var records []model.PacketRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 4)
}

func TestInspect_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runInspect(&out, filepath.Join(t.TempDir(), "missing.pcap"), inspectOptions{}))

	path := writeCapture(t, 1)
	assert.Error(t, runInspect(&out, path, inspectOptions{ExportFormat: "xml"}))
}

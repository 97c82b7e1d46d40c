package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol(" dns ")
	require.NoError(t, err)
	assert.Equal(t, ProtocolDNS, p)

	_, err = ParseProtocol("sctp")
	assert.Error(t, err)
	assert.False(t, Protocol("0x0800").Known())
}

func TestCaptureState_Text(t *testing.T) {
	for st := StateIdle; st <= StateError; st++ {
		data, err := json.Marshal(st)
		require.NoError(t, err)

		var back CaptureState
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, st, back)
	}
	assert.Equal(t, "unknown", CaptureState(42).String())

	var st CaptureState
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}

func TestCaptureSession_Elapsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)

	running := CaptureSession{StartedAt: now.Add(-4 * time.Second), Duration: time.Hour}
	assert.Equal(t, 4*time.Second, running.Elapsed(now))

	stopped := CaptureSession{Duration: 7 * time.Second}
	assert.Equal(t, 7*time.Second, stopped.Elapsed(now))
}

func TestErrors_Unwrap(t *testing.T) {
	err := &PersistenceError{Op: "load", Err: ErrNotFound}
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "saved capture load failed: saved capture not found", err.Error())

	berr := &BackendError{Op: "start", Err: ErrBackendUnavailable}
	assert.ErrorIs(t, berr, ErrBackendUnavailable)

	verr := &ValidationError{Field: "interface", Reason: "too long"}
	assert.Equal(t, "invalid interface: too long", verr.Error())
}

func TestSavedCapture_Summary(t *testing.T) {
	c := SavedCapture{ID: "pcap-1", Label: "a", SavedAt: "2026-01-01T00:00:00.000Z", Packets: make([]PacketRecord, 3)}
	assert.Equal(t, SavedCaptureSummary{ID: "pcap-1", Label: "a", SavedAt: "2026-01-01T00:00:00.000Z", PacketCount: 3}, c.Summary())
}

func TestEvents(t *testing.T) {
	ev := PacketEvent(PacketRecord{Protocol: ProtocolARP})
	require.NotNil(t, ev.Packet)
	assert.Equal(t, EventPacket, ev.Kind)
	assert.Equal(t, Event{Kind: EventError, Message: "boom"}, ErrorEvent("boom"))
	assert.Equal(t, Event{Kind: EventStatus, Message: "ok"}, StatusEvent("ok"))
}

func TestCaptureSession_JSONDuration(t *testing.T) {
	in := CaptureSession{Interface: "eth0", State: StateStopped, Duration: 2100 * time.Millisecond, Protocols: []Protocol{ProtocolTCP}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"durationMs":2100`)
	assert.Contains(t, string(data), `"state":"stopped"`)

	var back CaptureSession
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, in, back)
}

package probe

import (
	"context"
	"errors"
	"testing"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubBackend struct {
	started  []StartCommand
	stopped  int
	startErr error
}

func (b *stubBackend) Readiness(context.Context) (model.Readiness, error) {
	return model.Readiness{Installed: true, Message: "libpcap version 1.10.4"}, nil
}

func (b *stubBackend) Interfaces(context.Context) ([]model.Interface, error) {
	return []model.Interface{{Name: "eth0", Description: "uplink"}, {Name: "lo"}}, nil
}

func (b *stubBackend) Start(_ context.Context, iface string, protocols []model.Protocol, bpf string) error {
	b.started = append(b.started, StartCommand{Interface: iface, Protocols: protocols, BPF: bpf})
	return b.startErr
}

func (b *stubBackend) Stop(context.Context) error {
	b.stopped++
	return nil
}

func (b *stubBackend) Subscribe(context.Context) (capture.Subscription, error) {
	return capture.NewChanSubscription(1), nil
}

func testServer(t *testing.T, backend capture.Backend) *Server {
	cfg := config.Default().Probe
	return newServer(nil, cfg, backend, zaptest.NewLogger(t).Sugar())
}

func TestDispatch_Ready(t *testing.T) {
	s := testServer(t, &stubBackend{})
	reply, err := DecodeReply(s.Dispatch(context.Background(), CmdReady, nil))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, model.Readiness{Installed: true, Message: "libpcap version 1.10.4"}, reply.Readiness)
}

func TestDispatch_Interfaces(t *testing.T) {
	s := testServer(t, &stubBackend{})
	reply, err := DecodeReply(s.Dispatch(context.Background(), CmdInterfaces, nil))
	require.NoError(t, err)
	assert.Equal(t, []model.Interface{{Name: "eth0", Description: "uplink"}, {Name: "lo"}}, reply.Interfaces)
}

func TestDispatch_StartAndStop(t *testing.T) {
	backend := &stubBackend{}
	s := testServer(t, backend)

	payload, err := EncodeStart(StartCommand{
		Interface: "eth0",
		Protocols: []model.Protocol{model.ProtocolTCP, model.ProtocolDNS},
		BPF:       "host 10.1.1.1",
	})
	require.NoError(t, err)

	reply, err := DecodeReply(s.Dispatch(context.Background(), CmdStart, payload))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	require.Len(t, backend.started, 1)
	assert.Equal(t, StartCommand{
		Interface: "eth0",
		Protocols: []model.Protocol{model.ProtocolTCP, model.ProtocolDNS},
		BPF:       "host 10.1.1.1",
	}, backend.started[0])

	reply, err = DecodeReply(s.Dispatch(context.Background(), CmdStop, nil))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, 1, backend.stopped)
}

func TestDispatch_Errors(t *testing.T) {
	backend := &stubBackend{startErr: errors.New("capture already running")}
	s := testServer(t, backend)

	payload, err := EncodeStart(StartCommand{Protocols: []model.Protocol{model.ProtocolUDP}})
	require.NoError(t, err)
	reply, err := DecodeReply(s.Dispatch(context.Background(), CmdStart, payload))
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "capture already running", reply.Error)

	reply, err = DecodeReply(s.Dispatch(context.Background(), CmdStart, []byte{0xff, 0xff}))
	require.NoError(t, err)
	assert.False(t, reply.OK)

	reply, err = DecodeReply(s.Dispatch(context.Background(), "cmd.reboot", nil))
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "unknown command")
}

func TestEventCodec(t *testing.T) {
	packet := model.PacketEvent(model.PacketRecord{
		Time:        "12:00:00.250",
		Source:      "192.168.0.7",
		Destination: "93.184.216.34",
		Protocol:    model.ProtocolTLS,
		Length:      1337,
		Info:        "50123 -> 443",
	})
	data, err := EncodeEvent(packet)
	require.NoError(t, err)
	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, packet, got)

	status := model.StatusEvent("Capture running...")
	data, err = EncodeEvent(status)
	require.NoError(t, err)
	got, err = DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, status, got)
	assert.Nil(t, got.Packet)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	data, err := marshalStruct(map[string]any{"kind": "telemetry"})
	require.NoError(t, err)
	_, err = DecodeEvent(data)
	assert.Error(t, err)

	data, err = marshalStruct(map[string]any{"kind": "packet"})
	require.NoError(t, err)
	_, err = DecodeEvent(data)
	assert.Error(t, err)

	_, err = DecodeEvent([]byte{0x0a})
	assert.Error(t, err)
}

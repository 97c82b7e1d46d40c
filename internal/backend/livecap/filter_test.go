package livecap

import (
	"testing"

	"Go2NetCapture/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name      string
		protocols []model.Protocol
		user      string
		want      string
	}{
		{"nothing", nil, "", ""},
		{"single protocol", []model.Protocol{model.ProtocolTCP}, "", "tcp"},
		{"icmp covers v6", []model.Protocol{model.ProtocolICMP}, "", "(icmp or icmp6)"},
		{"icmp with user", []model.Protocol{model.ProtocolICMP}, "host 10.0.0.1", "(icmp or icmp6) and (host 10.0.0.1)"},
		{"dns with user", []model.Protocol{model.ProtocolDNS}, "udp", "(udp port 53 or tcp port 53) and (udp)"},
		{
			"icmp among others",
			[]model.Protocol{model.ProtocolTCP, model.ProtocolICMP},
			"",
			"(tcp or (icmp or icmp6))",
		},
		{
			"several protocols",
			[]model.Protocol{model.ProtocolUDP, model.ProtocolARP, model.ProtocolDNS},
			"",
			"(udp or arp or (udp port 53 or tcp port 53))",
		},
		{"user only", nil, "  host 10.0.0.1 ", "host 10.0.0.1"},
		{"protocol and user", []model.Protocol{model.ProtocolTCP}, "port 22", "tcp and (port 22)"},
		{
			"web protocols",
			[]model.Protocol{model.ProtocolTLS, model.ProtocolHTTP, model.ProtocolTLS},
			"net 10.0.0.0/8",
			"(tcp port 443 or tcp port 80) and (net 10.0.0.0/8)",
		},
		{"unknown label ignored", []model.Protocol{"SCTP"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildFilter(tt.protocols, tt.user))
		})
	}
}

func TestHub_FanOut(t *testing.T) {
	h := newHub()
	a := h.subscribe()
	b := h.subscribe()

	h.publish(model.StatusEvent(StatusRunning))
	for _, sub := range []interface{ Events() <-chan model.Event }{a, b} {
		ev := <-sub.Events()
		assert.Equal(t, model.EventStatus, ev.Kind)
		assert.Equal(t, StatusRunning, ev.Message)
	}

	b.Close()
	h.publish(model.PacketEvent(model.PacketRecord{Protocol: model.ProtocolTCP}))
	ev := <-a.Events()
	assert.Equal(t, model.EventPacket, ev.Kind)

	_, open := <-b.Events()
	assert.False(t, open, "closed subscriber is ended on the next publish")

	h.close()
	_, open = <-a.Events()
	assert.False(t, open)
}

func TestHub_DropsPacketsForSlowSubscriber(t *testing.T) {
	h := newHub()
	sub := h.subscribe()

	dropped := 0
	for i := 0; i < subscriptionBuffer+10; i++ {
		dropped += h.publish(model.PacketEvent(model.PacketRecord{Length: uint32(i)}))
	}
	assert.Equal(t, 10, dropped)
	assert.Len(t, sub.Events(), subscriptionBuffer)
}

package probe

import (
	"fmt"

	"Go2NetCapture/internal/model"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Command subjects, relative to the configured prefix.
const (
	CmdReady      = "cmd.ready"
	CmdInterfaces = "cmd.interfaces"
	CmdStart      = "cmd.start"
	CmdStop       = "cmd.stop"
	EventsSubject = "events"
)

// StartCommand is the payload of a start request.
type StartCommand struct {
	Interface string
	Protocols []model.Protocol
	BPF       string
}

// Reply is the decoded answer to any command.
type Reply struct {
	OK         bool
	Error      string
	Readiness  model.Readiness
	Interfaces []model.Interface
}

func marshalStruct(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	return proto.Marshal(s)
}

func unmarshalStruct(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf struct: %w", err)
	}
	return s.AsMap(), nil
}

// EncodeStart serializes a start request.
func EncodeStart(cmd StartCommand) ([]byte, error) {
	protocols := make([]any, len(cmd.Protocols))
	for i, p := range cmd.Protocols {
		protocols[i] = string(p)
	}
	return marshalStruct(map[string]any{
		"interface": cmd.Interface,
		"protocols": protocols,
		"bpf":       cmd.BPF,
	})
}

// DecodeStart parses a start request.
func DecodeStart(data []byte) (StartCommand, error) {
	m, err := unmarshalStruct(data)
	if err != nil {
		return StartCommand{}, err
	}
	cmd := StartCommand{
		Interface: stringField(m, "interface"),
		BPF:       stringField(m, "bpf"),
	}
	if list, ok := m["protocols"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				cmd.Protocols = append(cmd.Protocols, model.Protocol(s))
			}
		}
	}
	return cmd, nil
}

// EncodeReply serializes a command reply.
func EncodeReply(r Reply) ([]byte, error) {
	fields := map[string]any{
		"ok":    r.OK,
		"error": r.Error,
		"readiness": map[string]any{
			"installed": r.Readiness.Installed,
			"message":   r.Readiness.Message,
		},
	}
	if r.Interfaces != nil {
		ifaces := make([]any, len(r.Interfaces))
		for i, d := range r.Interfaces {
			ifaces[i] = map[string]any{"name": d.Name, "description": d.Description}
		}
		fields["interfaces"] = ifaces
	}
	return marshalStruct(fields)
}

// DecodeReply parses a command reply.
func DecodeReply(data []byte) (Reply, error) {
	m, err := unmarshalStruct(data)
	if err != nil {
		return Reply{}, err
	}
	r := Reply{
		OK:    boolField(m, "ok"),
		Error: stringField(m, "error"),
	}
	if rd, ok := m["readiness"].(map[string]any); ok {
		r.Readiness = model.Readiness{Installed: boolField(rd, "installed"), Message: stringField(rd, "message")}
	}
	if list, ok := m["interfaces"].([]any); ok {
		r.Interfaces = make([]model.Interface, 0, len(list))
		for _, v := range list {
			if d, ok := v.(map[string]any); ok {
				r.Interfaces = append(r.Interfaces, model.Interface{Name: stringField(d, "name"), Description: stringField(d, "description")})
			}
		}
	}
	return r, nil
}

// EncodeEvent serializes a backend event.
func EncodeEvent(ev model.Event) ([]byte, error) {
	fields := map[string]any{
		"kind":    string(ev.Kind),
		"message": ev.Message,
	}
	if ev.Packet != nil {
		fields["packet"] = map[string]any{
			"time":     ev.Packet.Time,
			"src":      ev.Packet.Source,
			"dest":     ev.Packet.Destination,
			"protocol": string(ev.Packet.Protocol),
			"length":   float64(ev.Packet.Length),
			"info":     ev.Packet.Info,
		}
	}
	return marshalStruct(fields)
}

// DecodeEvent parses a backend event.
func DecodeEvent(data []byte) (model.Event, error) {
	m, err := unmarshalStruct(data)
	if err != nil {
		return model.Event{}, err
	}
	ev := model.Event{
		Kind:    model.EventKind(stringField(m, "kind")),
		Message: stringField(m, "message"),
	}
	switch ev.Kind {
	case model.EventPacket, model.EventStatus, model.EventError:
	default:
		return model.Event{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if p, ok := m["packet"].(map[string]any); ok {
		length, _ := p["length"].(float64)
		ev.Packet = &model.PacketRecord{
			Time:        stringField(p, "time"),
			Source:      stringField(p, "src"),
			Destination: stringField(p, "dest"),
			Protocol:    model.Protocol(stringField(p, "protocol")),
			Length:      uint32(length),
			Info:        stringField(p, "info"),
		}
	}
	if ev.Kind == model.EventPacket && ev.Packet == nil {
		return model.Event{}, fmt.Errorf("packet event without packet")
	}
	return ev, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

package livecap

import (
	"strings"

	"Go2NetCapture/internal/model"
)

// Clauses with more than one term carry their own parentheses so they stay
// grouped when joined with "and".
var protocolClauses = map[model.Protocol]string{
	model.ProtocolTCP:  "tcp",
	model.ProtocolUDP:  "udp",
	model.ProtocolICMP: "(icmp or icmp6)",
	model.ProtocolARP:  "arp",
	model.ProtocolDNS:  "(udp port 53 or tcp port 53)",
	model.ProtocolTLS:  "tcp port 443",
	model.ProtocolHTTP: "tcp port 80",
}

// BuildFilter combines the protocol set and a user BPF expression into one
// libpcap filter. The user expression is never parsed, only parenthesized.
// An empty result means no filter.
func BuildFilter(protocols []model.Protocol, user string) string {
	var clauses []string
	seen := make(map[string]bool)
	for _, p := range protocols {
		clause, ok := protocolClauses[p]
		if !ok || seen[clause] {
			continue
		}
		seen[clause] = true
		clauses = append(clauses, clause)
	}
	proto := strings.Join(clauses, " or ")
	if len(clauses) > 1 {
		proto = "(" + proto + ")"
	}

	user = strings.TrimSpace(user)
	switch {
	case proto != "" && user != "":
		return proto + " and (" + user + ")"
	case proto != "":
		return proto
	default:
		return user
	}
}

package protocol

import (
	"fmt"
	"net"
	"time"

	"Go2NetCapture/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	minEthernetLen = 14
	unknownAddr    = "unknown"
)

// Summarize uses gopacket to decode a raw Ethernet frame into a PacketRecord.
// It never fails: frames it cannot classify get a descriptive protocol label.
func Summarize(data []byte, ts time.Time) model.PacketRecord {
	rec := model.PacketRecord{
		Time:        model.DisplayTime(ts),
		Source:      unknownAddr,
		Destination: unknownAddr,
		Length:      uint32(len(data)),
	}
	if len(data) < minEthernetLen {
		rec.Protocol = "RAW"
		rec.Info = "Frame too short"
		return rec
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	if l := packet.Layer(layers.LayerTypeARP); l != nil {
		summarizeARP(&rec, l.(*layers.ARP))
		return rec
	}
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		rec.Source = ip.SrcIP.String()
		rec.Destination = ip.DstIP.String()
		summarizeIPv4(&rec, packet, ip)
		return rec
	}
	if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		rec.Source = ip.SrcIP.String()
		rec.Destination = ip.DstIP.String()
		summarizeIPv6(&rec, packet, ip)
		return rec
	}

	etherType := uint16(data[12])<<8 | uint16(data[13])
	rec.Protocol = model.Protocol(fmt.Sprintf("0x%04x", etherType))
	rec.Info = "Unrecognized EtherType"
	return rec
}

func summarizeARP(rec *model.PacketRecord, arp *layers.ARP) {
	rec.Protocol = model.ProtocolARP
	rec.Source = net.IP(arp.SourceProtAddress).String()
	rec.Destination = net.IP(arp.DstProtAddress).String()
	switch arp.Operation {
	case layers.ARPRequest:
		rec.Info = fmt.Sprintf("Who has %s? Tell %s", rec.Destination, rec.Source)
	case layers.ARPReply:
		rec.Info = fmt.Sprintf("%s is at %s", rec.Source, net.HardwareAddr(arp.SourceHwAddress))
	default:
		rec.Info = "ARP"
	}
}

func summarizeIPv4(rec *model.PacketRecord, packet gopacket.Packet, ip *layers.IPv4) {
	switch ip.Protocol {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		summarizeTransport(rec, packet)
	case layers.IPProtocolICMPv4:
		rec.Protocol = model.ProtocolICMP
		rec.Info = "ICMP"
		if l := packet.Layer(layers.LayerTypeICMPv4); l != nil {
			rec.Info = l.(*layers.ICMPv4).TypeCode.String()
		}
	case layers.IPProtocolSCTP:
		rec.Protocol = "SCTP"
		rec.Info = "SCTP"
	default:
		rec.Protocol = "IPv4"
		rec.Info = fmt.Sprintf("Protocol %d", uint8(ip.Protocol))
	}
}

func summarizeIPv6(rec *model.PacketRecord, packet gopacket.Packet, ip *layers.IPv6) {
	switch ip.NextHeader {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		summarizeTransport(rec, packet)
	case layers.IPProtocolICMPv6:
		rec.Protocol = "ICMPv6"
		rec.Info = "ICMPv6"
		if l := packet.Layer(layers.LayerTypeICMPv6); l != nil {
			rec.Info = l.(*layers.ICMPv6).TypeCode.String()
		}
	default:
		rec.Protocol = "IPv6"
		rec.Info = fmt.Sprintf("Next header %d", uint8(ip.NextHeader))
	}
}

// summarizeTransport labels TCP and UDP segments, promoting well-known
// application ports to DNS, TLS and HTTP.
func summarizeTransport(rec *model.PacketRecord, packet gopacket.Packet) {
	if l := packet.Layer(layers.LayerTypeDNS); l != nil {
		rec.Protocol = model.ProtocolDNS
		rec.Info = summarizeDNS(l.(*layers.DNS))
		return
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		src, dst := uint16(tcp.SrcPort), uint16(tcp.DstPort)
		rec.Info = fmt.Sprintf("%d -> %d", src, dst)
		switch {
		case src == 443 || dst == 443:
			rec.Protocol = model.ProtocolTLS
		case src == 80 || dst == 80:
			rec.Protocol = model.ProtocolHTTP
		default:
			rec.Protocol = model.ProtocolTCP
			rec.Info += tcpFlags(tcp)
		}
		return
	}

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		rec.Protocol = model.ProtocolUDP
		rec.Info = fmt.Sprintf("%d -> %d", uint16(udp.SrcPort), uint16(udp.DstPort))
		return
	}

	// Truncated segment: the IP header named a transport we could not decode.
	rec.Protocol = model.ProtocolTCP
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil && l.(*layers.IPv4).Protocol == layers.IPProtocolUDP {
		rec.Protocol = model.ProtocolUDP
	}
	rec.Info = string(rec.Protocol)
}

func summarizeDNS(dns *layers.DNS) string {
	name := ""
	qtype := ""
	if len(dns.Questions) > 0 {
		name = string(dns.Questions[0].Name)
		qtype = dns.Questions[0].Type.String()
	}
	if !dns.QR {
		return fmt.Sprintf("Query %s %s", qtype, name)
	}
	for _, answer := range dns.Answers {
		if answer.IP != nil {
			return fmt.Sprintf("Response %s %s", name, answer.IP)
		}
	}
	return fmt.Sprintf("Response %s", name)
}

func tcpFlags(tcp *layers.TCP) string {
	flags := ""
	if tcp.SYN {
		flags += " SYN"
	}
	if tcp.ACK {
		flags += " ACK"
	}
	if tcp.FIN {
		flags += " FIN"
	}
	if tcp.RST {
		flags += " RST"
	}
	if flags == "" {
		return ""
	}
	return " [" + flags[1:] + "]"
}

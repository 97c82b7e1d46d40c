package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"time"

	"Go2NetCapture/internal/model"
	"Go2NetCapture/internal/synth"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Writes a pcap of synthetic traffic whose frames dissect back to the
// protocols the capture controller simulates.
func main() {
	outputFile := flag.String("o", "sample.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of packets to generate")
	protocols := flag.String("p", "TCP,UDP,ICMP,ARP,DNS,TLS,HTTP", "Comma separated protocols to generate")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	flag.Parse()

	var enabled []model.Protocol
	for _, name := range strings.Split(*protocols, ",") {
		p, err := model.ParseProtocol(name)
		if err != nil {
			log.Fatalf("Invalid -p: %v", err)
		}
		enabled = append(enabled, p)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed>>1))
	gen := synth.NewSeeded(*seed)
	start := time.Now()

	log.Printf("Generating %d packets into %s...", *packetCount, *outputFile)
	for i := 0; i < *packetCount; i++ {
		rec, _ := gen.Next(enabled, "")
		frame, err := buildFrame(rec, rng)
		if err != nil {
			log.Fatalf("Failed to build %s frame: %v", rec.Protocol, err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := pcapWriter.WritePacket(ci, frame); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}

	log.Printf("Successfully generated %d packets into %s.", *packetCount, *outputFile)
}

// buildFrame serializes an Ethernet frame for rec, padded toward
// rec.Length with random payload.
func buildFrame(rec model.PacketRecord, rng *rand.Rand) ([]byte, error) {
	src := net.ParseIP(rec.Source).To4()
	dst := net.ParseIP(rec.Destination).To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("record addresses %q -> %q are not IPv4", rec.Source, rec.Destination)
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: src, DstIP: dst}

	var stack []gopacket.SerializableLayer
	// Ethernet and IPv4 headers; the transport header is added per case.
	header := 14 + 20
	switch rec.Protocol {
	case model.ProtocolARP:
		eth.EthernetType = layers.EthernetTypeARP
		eth.DstMAC = layers.EthernetBroadcast
		stack = []gopacket.SerializableLayer{eth, &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: src,
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    dst,
		}}
	case model.ProtocolICMP:
		ip.Protocol = layers.IPProtocolICMPv4
		stack = []gopacket.SerializableLayer{eth, ip, &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       uint16(rng.IntN(1 << 16)),
			Seq:      1,
		}}
		header += 8
	case model.ProtocolDNS:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(ephemeralPort(rng)), DstPort: 53}
		udp.SetNetworkLayerForChecksum(ip)
		qtype, name := dnsQuestion(rec.Info)
		stack = []gopacket.SerializableLayer{eth, ip, udp, &layers.DNS{
			ID: uint16(rng.IntN(1 << 16)),
			RD: true,
			Questions: []layers.DNSQuestion{{
				Name:  []byte(name),
				Type:  qtype,
				Class: layers.DNSClassIN,
			}},
		}}
	case model.ProtocolUDP:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(ephemeralPort(rng)), DstPort: layers.UDPPort(ephemeralPort(rng))}
		udp.SetNetworkLayerForChecksum(ip)
		stack = []gopacket.SerializableLayer{eth, ip, udp}
		header += 8
	default:
		dstPort := ephemeralPort(rng)
		switch rec.Protocol {
		case model.ProtocolTLS:
			dstPort = 443
		case model.ProtocolHTTP:
			dstPort = 80
		}
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(ephemeralPort(rng)),
			DstPort: layers.TCPPort(dstPort),
			Seq:     rng.Uint32(),
			SYN:     true,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		stack = []gopacket.SerializableLayer{eth, ip, tcp}
		header += 20
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, err
	}

	// DNS and ARP frames keep their natural size so they still decode.
	if rec.Protocol == model.ProtocolDNS || rec.Protocol == model.ProtocolARP {
		return buf.Bytes(), nil
	}
	// Ethernet serialization pads short frames to 60 bytes, so the payload
	// size comes from the header length rather than the serialized frame.
	if pad := int(rec.Length) - header; pad > 0 && int(rec.Length) > len(buf.Bytes()) {
		payload := make([]byte, pad)
		for i := range payload {
			payload[i] = byte(rng.IntN(256))
		}
		buf = gopacket.NewSerializeBuffer()
		if err := gopacket.SerializeLayers(buf, opts, append(stack, gopacket.Payload(payload))...); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ephemeralPort stays in the dynamic range, where no port maps to an
// application decoder.
func ephemeralPort(rng *rand.Rand) int {
	return 49152 + rng.IntN(65536-49152)
}

func dnsQuestion(info string) (layers.DNSType, string) {
	switch {
	case strings.HasPrefix(info, "Query AAAA "):
		return layers.DNSTypeAAAA, strings.TrimPrefix(info, "Query AAAA ")
	case strings.HasPrefix(info, "Query A "):
		return layers.DNSTypeA, strings.TrimPrefix(info, "Query A ")
	default:
		return layers.DNSTypeA, "example.com"
	}
}

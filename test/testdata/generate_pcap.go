//go:build ignore

// This program generates a pair of sample BCUDP captures for manual runs:
// a pcapng reference streaming at 25 packets/s and a legacy pcap of the same
// session streaming at 10 packets/s with a dropped packet.
//
//	go run test/testdata/generate_pcap.go [dir]
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/internal/capturetest"
)

const (
	cameraIP   = "192.168.1.20"
	clientIP   = "10.0.0.7"
	cameraPort = 32100
	clientPort = 40000
	connID     = 7
)

func main() {
	dir := "test/testdata"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	reference := session(start, 40*time.Millisecond, nil)
	slow := session(start, 100*time.Millisecond, map[uint32]bool{117: true})

	ng, err := capturetest.Ng(binary.LittleEndian, reference)
	if err != nil {
		panic(err)
	}
	legacy, err := capturetest.Legacy(slow)
	if err != nil {
		panic(err)
	}
	export, err := capturetest.Export(start, reference)
	if err != nil {
		panic(err)
	}

	write(filepath.Join(dir, "sample_a.pcapng"), ng)
	write(filepath.Join(dir, "sample_b.pcap"), legacy)
	write(filepath.Join(dir, "sample_a.json"), export)
}

// session builds a discovery exchange followed by Data packets 100..149 from
// the camera, each acknowledged by the client.
func session(start time.Time, interval time.Duration, drop map[uint32]bool) []capturetest.Packet {
	toCamera := func(ts time.Time, payload []byte) capturetest.Packet {
		return capturetest.Packet{Time: ts, SrcIP: clientIP, DstIP: cameraIP, SrcPort: clientPort, DstPort: cameraPort, Payload: payload}
	}
	fromCamera := func(ts time.Time, payload []byte) capturetest.Packet {
		return capturetest.Packet{Time: ts, SrcIP: cameraIP, DstIP: clientIP, SrcPort: cameraPort, DstPort: clientPort, Payload: payload}
	}

	discovery := bcudp.KindDiscovery.Magic()
	pkts := []capturetest.Packet{
		toCamera(start, append(discovery[:], []byte("C2D_C")...)),
		fromCamera(start.Add(5*time.Millisecond), append(discovery[:], []byte("D2C_C_R")...)),
	}

	ts := start.Add(20 * time.Millisecond)
	for pid := uint32(100); pid < 150; pid++ {
		body := []byte(fmt.Sprintf("frame-%03d", pid))
		if !drop[pid] {
			pkts = append(pkts, fromCamera(ts, bcudp.Encode(&bcudp.Data{
				ConnectionID: connID,
				PacketID:     pid,
				PayloadLen:   uint32(len(body)),
				Payload:      append(make([]byte, 20), body...),
			})))
			pkts = append(pkts, toCamera(ts.Add(2*time.Millisecond), bcudp.Encode(&bcudp.Ack{
				ConnectionID: connID,
				GroupID:      1,
				PacketID:     pid,
			})))
		}
		ts = ts.Add(interval)
	}
	return pkts
}

func write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		panic(err)
	}
	fmt.Printf("Generated %s (%d bytes)\n", path, len(data))
}

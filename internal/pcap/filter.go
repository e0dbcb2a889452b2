package pcap

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const (
	offIPProto = ethernetHeaderLen + 9
	offSrcPort = ethernetHeaderLen + ipv4HeaderLen
	offDstPort = offSrcPort + 2

	acceptLen      = 65535
	maxFilterPorts = 64
)

// PortFilter admits only UDP frames whose source or destination port is in a
// fixed set. It runs a classic BPF program over the raw frame, so rejected
// frames never reach the frame decoder.
type PortFilter struct {
	ports []uint16
	vm    *bpf.VM
}

// NewPortFilter builds a filter for the given ports.
func NewPortFilter(ports []uint16) (*PortFilter, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("port filter needs at least one port")
	}
	// jump offsets are 8 bits wide
	if len(ports) > maxFilterPorts {
		return nil, fmt.Errorf("port filter supports at most %d ports, got %d", maxFilterPorts, len(ports))
	}

	vm, err := bpf.NewVM(portProgram(ports))
	if err != nil {
		return nil, fmt.Errorf("failed to load BPF port filter: %w", err)
	}
	return &PortFilter{ports: ports, vm: vm}, nil
}

// Match reports whether the frame passes the filter. Frames too short for the
// loads are rejected.
func (f *PortFilter) Match(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}

// MatchPorts applies the same port test to an already decoded datagram, for
// inputs that carry no raw frame.
func (f *PortFilter) MatchPorts(src, dst uint16) bool {
	for _, p := range f.ports {
		if p == src || p == dst {
			return true
		}
	}
	return false
}

// Ports returns the configured ports.
func (f *PortFilter) Ports() []uint16 {
	return f.ports
}

// portProgram builds:
//
//	ldb  [23]        ; IPv4 protocol
//	jne  #17, drop
//	ldh  [34]        ; UDP source port
//	jeq  #port_i, keep   (per port)
//	ldh  [36]        ; UDP destination port
//	jeq  #port_i, keep   (per port)
//	drop: ret #0
//	keep: ret #65535
func portProgram(ports []uint16) []bpf.Instruction {
	n := len(ports)
	drop := 4 + 2*n
	keep := drop + 1

	prog := make([]bpf.Instruction, 0, keep+1)
	prog = append(prog,
		bpf.LoadAbsolute{Off: offIPProto, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 17, SkipTrue: uint8(drop - 2)},
		bpf.LoadAbsolute{Off: offSrcPort, Size: 2},
	)
	for _, p := range ports {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: uint8(keep - len(prog) - 1)})
	}
	prog = append(prog, bpf.LoadAbsolute{Off: offDstPort, Size: 2})
	for _, p := range ports {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: uint8(keep - len(prog) - 1)})
	}
	prog = append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: acceptLen},
	)
	return prog
}

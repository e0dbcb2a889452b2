package pcap

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/internal/capturetest"
	"bcudp-compare/internal/stats"
	"bcudp-compare/pkg/types"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func drain(t *testing.T, src DatagramSource) []types.Datagram {
	t.Helper()
	var out []types.Datagram
	for {
		dg, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, dg)
	}
}

func mixedPackets() []capturetest.Packet {
	pkts := samplePackets(3)
	pkts = append(pkts,
		capturetest.Packet{
			Time:    t0.Add(time.Second),
			SrcIP:   "192.168.1.20",
			DstIP:   "10.0.0.7",
			SrcPort: 53,
			DstPort: 40000,
			Payload: []byte("not bcudp at all"),
		},
		capturetest.Packet{
			Time:    t0.Add(2 * time.Second),
			SrcIP:   "192.168.1.20",
			DstIP:   "10.0.0.7",
			SrcPort: 32100,
			DstPort: 32108,
			Payload: bcudp.Encode(&bcudp.Ack{ConnectionID: 3, GroupID: 1, PacketID: 102}),
		},
	)
	return pkts
}

func TestOpen_Legacy(t *testing.T) {
	raw, err := capturetest.Legacy(mixedPackets())
	require.NoError(t, err)
	path := writeTemp(t, "a.pcap", raw)

	collector := stats.NewCollector()
	src, err := Open(path, Options{Collector: collector})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, FormatLegacy, src.Format())

	dgs := drain(t, src)
	require.Len(t, dgs, 5)
	for i, dg := range dgs {
		assert.Equal(t, i+1, dg.Frame)
	}
	assert.Equal(t, t0.Add(2*time.Second), dgs[4].Timestamp)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(5), snap.Frames)
	assert.Equal(t, uint64(5), snap.Datagrams)
	assert.False(t, snap.Truncated)
}

func TestOpen_PortFilter(t *testing.T) {
	raw, err := capturetest.Ng(binary.BigEndian, mixedPackets())
	require.NoError(t, err)
	path := writeTemp(t, "a.pcapng", raw)

	filter, err := NewPortFilter([]uint16{32100})
	require.NoError(t, err)
	collector := stats.NewCollector()

	src, err := Open(path, Options{Filter: filter, Collector: collector})
	require.NoError(t, err)
	defer src.Close()

	dgs := drain(t, src)
	require.Len(t, dgs, 4)
	// frame numbers count filtered frames too
	assert.Equal(t, 5, dgs[3].Frame)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(5), snap.Frames)
	assert.Equal(t, uint64(1), snap.Filtered)
	assert.Equal(t, uint64(4), snap.Datagrams)
}

func TestOpen_ExportMatchesBinary(t *testing.T) {
	pkts := mixedPackets()
	binRaw, err := capturetest.Legacy(pkts)
	require.NoError(t, err)
	jsonRaw, err := capturetest.Export(t0, pkts)
	require.NoError(t, err)

	binSrc, err := Open(writeTemp(t, "a.pcap", binRaw), Options{})
	require.NoError(t, err)
	defer binSrc.Close()
	jsonSrc, err := Open(writeTemp(t, "a.json", jsonRaw), Options{})
	require.NoError(t, err)
	defer jsonSrc.Close()
	assert.Equal(t, FormatExport, jsonSrc.Format())

	fromBin := drain(t, binSrc)
	fromJSON := drain(t, jsonSrc)
	require.Len(t, fromJSON, len(fromBin))

	for i := range fromBin {
		b, j := fromBin[i], fromJSON[i]
		assert.Equal(t, b.Frame, j.Frame)
		assert.Equal(t, b.SrcIP, j.SrcIP)
		assert.Equal(t, b.DstIP, j.DstIP)
		assert.Equal(t, b.SrcPort, j.SrcPort)
		assert.Equal(t, b.DstPort, j.DstPort)
		assert.Equal(t, b.Payload, j.Payload)

		// relative timestamps keep the spacing
		assert.InDelta(t, b.Timestamp.Sub(t0).Seconds(), j.Timestamp.Sub(time.Unix(0, 0)).Seconds(), 1e-6)

		pb, errB := bcudp.Decode(b.Payload)
		pj, errJ := bcudp.Decode(j.Payload)
		assert.Equal(t, errB, errJ)
		assert.Empty(t, cmp.Diff(pb, pj))
	}
}

func TestOpen_ExportSkipsRecordsWithoutUDP(t *testing.T) {
	export := `[
  {"_source": {"layers": {"frame": {"frame.number": "1", "frame.time_relative": "0.000000000"}, "arp": {}}}},
  {"_source": {"layers": {
    "frame": {"frame.number": "2", "frame.time_relative": "0.500000000"},
    "ip": {"ip.src": "192.168.1.20", "ip.dst": "10.0.0.7"},
    "udp": {"udp.srcport": "32100", "udp.dstport": "32108"},
    "data": {"data.data": "3a:cf:87:2a"}
  }}}
]`
	collector := stats.NewCollector()
	src, err := NewSource(strings.NewReader(export), nil, Options{Collector: collector})
	require.NoError(t, err)

	dgs := drain(t, src)
	require.Len(t, dgs, 1)
	assert.Equal(t, 2, dgs[0].Frame)
	assert.Equal(t, []byte{0x3a, 0xcf, 0x87, 0x2a}, dgs[0].Payload)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(2), snap.Frames)
	assert.Equal(t, uint64(1), snap.NonUDP)
	require.NoError(t, src.Close())
}

func TestOpen_ExportTruncated(t *testing.T) {
	raw, err := capturetest.Export(t0, samplePackets(3))
	require.NoError(t, err)
	cut := raw[:len(raw)-40]

	collector := stats.NewCollector()
	src, err := NewSource(strings.NewReader(string(cut)), nil, Options{Collector: collector})
	require.NoError(t, err)

	dgs := drain(t, src)
	assert.Len(t, dgs, 2)
	assert.True(t, collector.Snapshot().Truncated)
}

func TestOpen_TruncatedCaptureCounted(t *testing.T) {
	raw, err := capturetest.Legacy(samplePackets(4))
	require.NoError(t, err)

	collector := stats.NewCollector()
	src, err := Open(writeTemp(t, "cut.pcap", raw[:len(raw)-5]), Options{Collector: collector})
	require.NoError(t, err)
	defer src.Close()

	dgs := drain(t, src)
	assert.Len(t, dgs, 3)
	assert.True(t, collector.Snapshot().Truncated)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpen_UnknownFormat(t *testing.T) {
	path := writeTemp(t, "junk.bin", []byte("hello, not a capture"))
	_, err := Open(path, Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Contains(t, err.Error(), path)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.pcap"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

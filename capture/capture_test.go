package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Zerofisher/pktcanalyzer/pktc"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// apReqBlob is an AP-REQ holding an empty SEQUENCE.
var apReqBlob = []byte{0x6e, 0x02, 0x30, 0x00}

func testRequest(t *testing.T) []byte {
	t.Helper()
	msg := &pktc.Message{
		Header: pktc.Header{
			Type:         pktc.Field[pktc.KMMID]{Value: pktc.KMMIDAPRequest},
			DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOISNMPv3},
			VersionMajor: pktc.Field[uint8]{Value: 1},
		},
		Body: &pktc.APRequest{
			AuthBlob:    pktc.Field[[]byte]{Value: apReqBlob},
			ServerNonce: pktc.Field[uint32]{Value: 42},
			AppData: &pktc.AppData{
				EngineID: pktc.Field[[]byte]{Value: []byte{0x80, 0x00, 0x01}},
				UserName: pktc.Field[string]{Value: "mta-7"},
			},
			Ciphersuites: &pktc.CiphersuiteList{Suites: []pktc.Ciphersuite{{
				Auth:      pktc.Field[pktc.AuthAlgorithm]{Value: pktc.AuthSHA1HMAC},
				Transform: pktc.Field[pktc.EncryptionTransform]{Value: pktc.TransformDES},
			}}},
			MAC: pktc.Field[[]byte]{Value: make([]byte, pktc.MACSize)},
		},
	}
	data, err := pktc.Encode(msg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	return data
}

func parseFrame(t *testing.T, payload []byte, opts FrameOptions) PacketInfo {
	t.Helper()
	frame, err := BuildFrame(payload, opts)
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	return ParsePacket(packet, 1)
}

func TestParsePacketRequest(t *testing.T) {
	info := parseFrame(t, testRequest(t), DefaultFrameOptions())

	if !info.IsPKTC() || info.Malformed() {
		t.Fatalf("expected well-formed PKTC, got protocol %s err %v", info.Protocol, info.DecodeErr)
	}
	if info.PKTC == nil || info.PKTC.Request() == nil {
		t.Fatal("expected decoded AP Request")
	}
	if info.SrcIP != "10.0.0.2" || info.DstPort != pktc.DefaultPort {
		t.Errorf("addressing = %s:%d, want 10.0.0.2 -> port %d", info.SrcIP, info.DstPort, pktc.DefaultPort)
	}
	if !strings.Contains(info.Info, "AP Request") || !strings.Contains(info.Info, "user=mta-7") {
		t.Errorf("info = %q", info.Info)
	}
	if info.Trailing != 0 {
		t.Errorf("trailing = %d, want 0", info.Trailing)
	}

	last := info.Layers[len(info.Layers)-1]
	if last.Name != "PacketCable" {
		t.Fatalf("last layer = %s, want PacketCable", last.Name)
	}
	found := false
	for _, d := range last.Details {
		if strings.Contains(d, "usmUserName: mta-7") {
			found = true
		}
	}
	if !found {
		t.Errorf("user name missing from details: %v", last.Details)
	}
}

func TestParsePacketMalformed(t *testing.T) {
	data := testRequest(t)
	info := parseFrame(t, data[:len(data)-5], DefaultFrameOptions())

	if !info.Malformed() {
		t.Fatal("expected malformed packet")
	}
	if !errors.Is(info.DecodeErr, pktc.ErrTruncatedInput) {
		t.Errorf("error = %v, want truncated input", info.DecodeErr)
	}
	if info.Header == nil || info.Header.Type.Value != pktc.KMMIDAPRequest {
		t.Errorf("expected header fallback, got %+v", info.Header)
	}
	if info.PKTC != nil {
		t.Error("malformed packet should not carry a message")
	}
	if !strings.HasPrefix(info.Info, "[Malformed]") {
		t.Errorf("info = %q", info.Info)
	}
}

func TestParsePacketShortPayload(t *testing.T) {
	info := parseFrame(t, []byte{0x02, 0x02}, DefaultFrameOptions())
	if !info.IsPKTC() || !errors.Is(info.DecodeErr, pktc.ErrTruncatedInput) {
		t.Errorf("got protocol %s err %v, want truncated PKTC", info.Protocol, info.DecodeErr)
	}
	if info.Header != nil {
		t.Error("no header expected for a 2 byte payload")
	}
}

func TestParsePacketTrailingBytes(t *testing.T) {
	data := append(testRequest(t), 0xca, 0xfe)
	info := parseFrame(t, data, DefaultFrameOptions())
	if info.PKTC == nil {
		t.Fatalf("expected decoded message, got %v", info.DecodeErr)
	}
	if info.Trailing != 2 {
		t.Errorf("trailing = %d, want 2", info.Trailing)
	}
}

func TestRegisterPort(t *testing.T) {
	opts := DefaultFrameOptions()
	opts.Src.Port = 40000
	opts.Dst.Port = 41293

	info := parseFrame(t, testRequest(t), opts)
	if info.IsPKTC() {
		t.Fatal("unregistered port decoded as PKTC")
	}

	RegisterPort(41293)
	info = parseFrame(t, testRequest(t), opts)
	if !info.IsPKTC() || info.PKTC == nil {
		t.Errorf("registered port not decoded: protocol %s err %v", info.Protocol, info.DecodeErr)
	}
	if GetPortName(41293) != "pktc" {
		t.Errorf("port name = %q, want pktc", GetPortName(41293))
	}
}

func TestBuildFrameRejectsIPv6(t *testing.T) {
	opts := DefaultFrameOptions()
	opts.Dst.IP = []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	if _, err := BuildFrame([]byte{1, 2, 3}, opts); err == nil {
		t.Error("expected error for IPv6 destination")
	}
}

func TestPcapWriter(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.pcapng")
	w, err := NewPcapWriter(filename)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	req := testRequest(t)
	if err := w.WriteMessage(ts, req, DefaultFrameOptions()); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := w.WriteMessage(ts.Add(time.Second), req, DefaultFrameOptions().Reverse()); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if w.Count() != 2 {
		t.Errorf("count = %d, want 2", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := w.WriteFrame(ts, []byte{1}); err == nil {
		t.Error("expected error writing to closed writer")
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer f.Close()

	r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		t.Fatalf("Failed to read pcapng: %v", err)
	}

	for i := 0; i < 2; i++ {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if !ci.Timestamp.Equal(ts.Add(time.Duration(i) * time.Second)) {
			t.Errorf("packet %d timestamp = %v", i, ci.Timestamp)
		}
		info := ParsePacket(gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default), i+1)
		if info.PKTC == nil {
			t.Errorf("packet %d did not decode: %v", i, info.DecodeErr)
		}
	}
}

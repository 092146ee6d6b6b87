package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

func replyPacket(t *testing.T) *capture.PacketInfo {
	t.Helper()
	msg := &pktc.Message{
		Header: pktc.Header{
			Type:         pktc.Field[pktc.KMMID]{Value: pktc.KMMIDAPReply},
			DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOISNMPv3},
			VersionMajor: pktc.Field[uint8]{Value: 1},
		},
		Body: &pktc.APReply{
			AuthBlob: pktc.Field[[]byte]{Value: []byte{0x01, 0x02}},
			AppData: &pktc.AppData{
				EngineID: pktc.Field[[]byte]{Value: []byte{0xbe, 0xef}},
				UserName: pktc.Field[string]{Value: "cms"},
			},
			Ciphersuites: &pktc.CiphersuiteList{Suites: []pktc.Ciphersuite{
				{Auth: pktc.Field[pktc.AuthAlgorithm]{Value: pktc.AuthSHA1HMAC}, Transform: pktc.Field[pktc.EncryptionTransform]{Value: pktc.TransformDES}},
			}},
			Lifetime:    pktc.Field[uint32]{Value: 3600},
			GracePeriod: pktc.Field[uint32]{Value: 60},
			MAC:         pktc.Field[[]byte]{Value: make([]byte, pktc.MACSize)},
		},
	}
	data, err := pktc.Encode(msg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	two := pktc.AuthDecoderFunc(func([]byte) (int, error) { return 2, nil })
	decoded, err := pktc.NewDecoder(two).Decode(data, 0)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	return &capture.PacketInfo{
		Number:    4,
		Timestamp: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Length:    len(data) + 42,
		SrcIP:     "10.0.0.1",
		DstIP:     "10.0.0.2",
		SrcPort:   1293,
		DstPort:   1293,
		Protocol:  "PKTC",
		Info:      capture.Summary(decoded, decoded.Header, nil),
		Payload:   data,
		RawData:   data,
		PKTC:      decoded,
		Header:    &decoded.Header,
		Layers:    []capture.LayerInfo{{Name: "UDP"}, {Name: "PacketCable"}},
	}
}

func TestExportText(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	if err := e.ExportPacket(replyPacket(t)); err != nil {
		t.Fatalf("Failed to export: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	cols := strings.Split(line, "\t")
	if len(cols) != 7 {
		t.Fatalf("got %d columns: %q", len(cols), line)
	}
	if cols[2] != "10.0.0.1:1293" || cols[4] != "PKTC" {
		t.Errorf("unexpected columns: %q", cols)
	}
	if !strings.Contains(cols[6], "AP Reply") {
		t.Errorf("info column = %q", cols[6])
	}
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatJSON)
	pkt := replyPacket(t)

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := e.ExportPacket(pkt); err != nil {
			t.Fatalf("Failed to export: %v", err)
		}
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}

	var out []PacketJSON
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(out) != 2 {
		t.Fatalf("got %d packets, want 2", len(out))
	}
	p := out[0].PKTC
	if p == nil || p.KMMID != 3 || p.Type != "AP Reply" || p.Version != "1.0" {
		t.Fatalf("unexpected pktc object: %+v", p)
	}
	if p.Tree == nil || p.Tree.Length != len(pkt.Payload) {
		t.Fatalf("tree root missing or wrong length: %+v", p.Tree)
	}
	last := p.Tree.Children[len(p.Tree.Children)-1]
	if last.Field != pktc.FieldMAC || last.Offset != len(pkt.Payload)-pktc.MACSize {
		t.Errorf("last child = %s at %d", last.Field, last.Offset)
	}
}

func TestExportJSONMalformed(t *testing.T) {
	hdr, err := pktc.ParseHeader([]byte{0x02, 0x02, 0x10}, 0)
	if err != nil {
		t.Fatal(err)
	}
	pkt := &capture.PacketInfo{
		Protocol:  "PKTC",
		Header:    &hdr,
		DecodeErr: &pktc.DecodeError{Err: pktc.ErrTruncatedInput, Field: pktc.FieldServerNonce, Offset: 7, Need: 4, Have: 1},
	}

	var buf bytes.Buffer
	e := NewExporter(&buf, FormatJSON)
	e.Start()
	if err := e.ExportPacket(pkt); err != nil {
		t.Fatal(err)
	}
	e.Finish()

	var out []PacketJSON
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	p := out[0].PKTC
	if p.Tree != nil || p.ErrOffset == nil || *p.ErrOffset != 7 || !strings.Contains(p.Error, "truncated") {
		t.Errorf("unexpected malformed object: %+v", p)
	}
}

func TestExportFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatFields)
	e.SetFields([]string{"frame.number", "pktc.kmmid", "pktc.snmp.user_name.data", "pktc.sec_param_lifetime", "pktc.nope"})
	e.SetShowHeader(true)
	e.SetMaxCount(1)

	e.Start()
	pkt := replyPacket(t)
	e.ExportPacket(pkt)
	e.ExportPacket(pkt)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header and one row: %q", len(lines), lines)
	}
	if lines[1] != "4\t3\tcms\t3600\t" {
		t.Errorf("row = %q", lines[1])
	}
	if e.Count() != 1 {
		t.Errorf("count = %d, want 1", e.Count())
	}
}

func TestWriteTreeAndHexDump(t *testing.T) {
	pkt := replyPacket(t)

	var buf bytes.Buffer
	if err := WriteTree(&buf, pkt.PKTC.Tree(), 0); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "[0+") {
		t.Errorf("tree does not start with root range: %q", out)
	}
	if !strings.Contains(out, "Security Parameter Lifetime: 3600") {
		t.Errorf("lifetime missing:\n%s", out)
	}

	buf.Reset()
	if err := HexDump(&buf, []byte("PKTC key management")); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "00000010") || !strings.HasSuffix(lines[0], "|PKTC key managem|") {
		t.Errorf("unexpected hex dump:\n%s", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if _, err := ParseFormat("pdml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

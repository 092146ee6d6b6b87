package expert

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

func suite(auth pktc.AuthAlgorithm, transform pktc.EncryptionTransform) pktc.Ciphersuite {
	return pktc.Ciphersuite{
		Auth:      pktc.Field[pktc.AuthAlgorithm]{Value: auth},
		Transform: pktc.Field[pktc.EncryptionTransform]{Value: transform},
	}
}

func decode(t *testing.T, msg *pktc.Message) *pktc.Message {
	t.Helper()
	data, err := pktc.Encode(msg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	none := pktc.AuthDecoderFunc(func([]byte) (int, error) { return 0, nil })
	decoded, err := pktc.NewDecoder(none).Decode(data, 0)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	return decoded
}

func packet(num int, src, dst string, msg *pktc.Message) *capture.PacketInfo {
	return &capture.PacketInfo{
		Number:    num,
		Timestamp: time.Date(2024, 1, 1, 0, 0, num, 0, time.UTC),
		Protocol:  "PKTC",
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   1293,
		DstPort:   1293,
		PKTC:      msg,
		Header:    &msg.Header,
	}
}

func request(t *testing.T, suites ...pktc.Ciphersuite) *pktc.Message {
	return decode(t, &pktc.Message{
		Header: pktc.Header{
			Type:         pktc.Field[pktc.KMMID]{Value: pktc.KMMIDAPRequest},
			DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOISNMPv3},
			VersionMajor: pktc.Field[uint8]{Value: 1},
		},
		Body: &pktc.APRequest{
			AppData:      &pktc.AppData{EngineID: pktc.Field[[]byte]{Value: []byte{1}}, UserName: pktc.Field[string]{Value: "mta"}},
			Ciphersuites: &pktc.CiphersuiteList{Suites: suites},
			MAC:          pktc.Field[[]byte]{Value: make([]byte, pktc.MACSize)},
		},
	})
}

func reply(t *testing.T, ack uint8, suites ...pktc.Ciphersuite) *pktc.Message {
	return decode(t, &pktc.Message{
		Header: pktc.Header{
			Type:         pktc.Field[pktc.KMMID]{Value: pktc.KMMIDAPReply},
			DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOISNMPv3},
			VersionMajor: pktc.Field[uint8]{Value: 1},
		},
		Body: &pktc.APReply{
			AppData:      &pktc.AppData{EngineID: pktc.Field[[]byte]{Value: []byte{1}}, UserName: pktc.Field[string]{Value: "mta"}},
			Ciphersuites: &pktc.CiphersuiteList{Suites: suites},
			Lifetime:     pktc.Field[uint32]{Value: 3600},
			AckRequired:  pktc.Field[uint8]{Value: ack},
			MAC:          pktc.Field[[]byte]{Value: make([]byte, pktc.MACSize)},
		},
	})
}

func summaries(infos []*ExpertInfo) []string {
	var out []string
	for _, info := range infos {
		out = append(out, info.Summary)
	}
	return out
}

func TestRequestReplyPairing(t *testing.T) {
	ctx := NewPKTCAnalysisContext()
	strong := suite(pktc.AuthSHA1HMAC, pktc.TransformDES)

	results := ctx.Analyze(packet(1, "10.0.0.2", "10.0.0.1", request(t, strong)))
	if len(results) != 0 {
		t.Errorf("Expected no issues for request, got %v", summaries(results))
	}

	results = ctx.Analyze(packet(2, "10.0.0.1", "10.0.0.2", reply(t, 0, strong)))
	if len(results) != 0 {
		t.Errorf("Expected no issues for matched reply, got %v", summaries(results))
	}

	if pending := ctx.CheckPendingRequests(); len(pending) != 0 {
		t.Errorf("Expected no pending requests, got %d", len(pending))
	}
}

func TestUnsolicitedReply(t *testing.T) {
	ctx := NewPKTCAnalysisContext()
	results := ctx.Analyze(packet(5, "10.0.0.1", "10.0.0.2", reply(t, 1, suite(pktc.AuthSHA1HMAC, pktc.TransformDES))))

	got := summaries(results)
	if len(got) != 2 || got[0] != PKTCUnsolicitedReply.String() || got[1] != PKTCAckRequired.String() {
		t.Fatalf("unexpected results: %v", got)
	}
	if results[0].Severity != SeverityNote || results[1].Severity != SeverityChat {
		t.Errorf("severities = %s, %s", results[0].Severity, results[1].Severity)
	}
}

func TestWeakCiphersuites(t *testing.T) {
	ctx := NewPKTCAnalysisContext()
	results := ctx.Analyze(packet(1, "10.0.0.2", "10.0.0.1", request(t,
		suite(pktc.AuthMD5HMAC, pktc.TransformNull),
		suite(pktc.AuthSHA1HMAC, pktc.TransformNull),
	)))

	if len(results) != 2 {
		t.Fatalf("Expected 2 issues, got %v", summaries(results))
	}
	if results[0].Summary != PKTCNullEncryption.String() || results[0].Severity != SeverityWarning || results[0].Group != GroupSecurity {
		t.Errorf("first issue = %+v", results[0])
	}
	if !strings.Contains(results[0].Details, "2 of 2") {
		t.Errorf("details = %q", results[0].Details)
	}
	if results[1].Summary != PKTCWeakAuth.String() || results[1].Severity != SeverityNote {
		t.Errorf("second issue = %+v", results[1])
	}
}

func TestReplySuiteCount(t *testing.T) {
	ctx := NewPKTCAnalysisContext()
	ctx.Analyze(packet(1, "10.0.0.2", "10.0.0.1", request(t, suite(pktc.AuthSHA1HMAC, pktc.TransformDES))))

	results := ctx.Analyze(packet(2, "10.0.0.1", "10.0.0.2", reply(t, 0,
		suite(pktc.AuthSHA1HMAC, pktc.TransformDES),
		suite(pktc.AuthSHA1HMAC, pktc.TransformDES),
	)))
	if len(results) != 1 || results[0].Summary != PKTCReplySuiteCount.String() {
		t.Fatalf("unexpected results: %v", summaries(results))
	}
}

func TestMalformedAndUnsupported(t *testing.T) {
	ctx := NewPKTCAnalysisContext()
	hdr, err := pktc.ParseHeader([]byte{0x02, 0x01, 0x10}, 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		err      error
		want     PKTCExpertType
		severity Severity
	}{
		{&pktc.DecodeError{Err: pktc.ErrTruncatedInput, Field: pktc.FieldMAC, Offset: 30, Need: 20, Have: 4}, PKTCMalformed, SeverityError},
		{&pktc.DecodeError{Err: pktc.ErrNestedDecoderOverrun, Field: pktc.FieldAuthBlob, Offset: 3}, PKTCMalformed, SeverityError},
		{&pktc.DecodeError{Err: pktc.ErrUnsupportedDomainOrMessage, Field: pktc.FieldEngineIDLen, Offset: 11}, PKTCUnsupportedLayout, SeverityWarning},
	}
	for i, tt := range tests {
		pkt := &capture.PacketInfo{Number: i + 1, Protocol: "PKTC", Header: &hdr, DecodeErr: tt.err}
		results := ctx.Analyze(pkt)
		if len(results) != 1 {
			t.Fatalf("case %d: expected 1 issue, got %d", i, len(results))
		}
		if results[0].Summary != tt.want.String() || results[0].Severity != tt.severity {
			t.Errorf("case %d: got %s/%s", i, results[0].Summary, results[0].Severity)
		}
		if !strings.HasPrefix(results[0].Details, "AP Request (IPSec)") {
			t.Errorf("case %d: details = %q", i, results[0].Details)
		}
	}
}

func TestHeaderOnlyAndTrailing(t *testing.T) {
	ctx := NewPKTCAnalysisContext()
	msg := decode(t, &pktc.Message{Header: pktc.Header{
		Type:         pktc.Field[pktc.KMMID]{Value: pktc.KMMIDWakeUp},
		DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOISNMPv3},
		VersionMajor: pktc.Field[uint8]{Value: 1},
	}})
	pkt := packet(1, "10.0.0.1", "10.0.0.2", msg)
	pkt.Trailing = 4

	got := summaries(ctx.Analyze(pkt))
	if len(got) != 2 || got[0] != PKTCTrailingData.String() || got[1] != PKTCHeaderOnly.String() {
		t.Errorf("unexpected results: %v", got)
	}
}

func TestAnalyzerPendingAndSummary(t *testing.T) {
	a := NewAnalyzer()

	if a.Analyze(&capture.PacketInfo{Number: 1, Protocol: "UDP"}) != nil {
		t.Error("non-PKTC packet produced expert info")
	}

	a.Analyze(packet(2, "10.0.0.2", "10.0.0.1", request(t, suite(pktc.AuthSHA1HMAC, pktc.TransformNull))))
	a.Analyze(packet(3, "10.0.0.3", "10.0.0.1", request(t, suite(pktc.AuthSHA1HMAC, pktc.TransformDES))))
	pending := a.Finish()
	if len(pending) != 2 || pending[0].PacketNum != 2 || pending[1].PacketNum != 3 {
		t.Fatalf("pending = %+v", pending)
	}
	if !strings.Contains(pending[0].Details, "user mta") {
		t.Errorf("details = %q", pending[0].Details)
	}

	stats := a.GetStatistics()
	if stats.TotalCount != 3 || stats.CountBySeverity[SeverityWarning] != 1 || stats.CountByGroup[GroupSequence] != 2 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
	if !a.HasIssues() {
		t.Error("expected HasIssues with a warning recorded")
	}
	if lines := a.PrintForPacket(2); len(lines) != 2 {
		t.Errorf("PrintForPacket(2) = %v", lines)
	}

	var buf bytes.Buffer
	a.PrintSummary(&buf)
	if !strings.Contains(buf.String(), "Total entries: 3") {
		t.Errorf("summary:\n%s", buf.String())
	}

	a.Reset()
	if len(a.GetInfos()) != 0 {
		t.Error("Reset did not clear infos")
	}
}

func TestParseSeverity(t *testing.T) {
	if s, err := ParseSeverity("warning"); err != nil || s != SeverityWarning {
		t.Errorf("ParseSeverity(warning) = %v, %v", s, err)
	}
	if _, err := ParseSeverity("fatal"); err == nil {
		t.Error("expected error for unknown severity")
	}
}

package ingest

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pkg/model"
	"github.com/Zerofisher/pktcanalyzer/pkg/query"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

func snmpSuite() *pktc.CiphersuiteList {
	return &pktc.CiphersuiteList{Suites: []pktc.Ciphersuite{{
		Auth:      pktc.Field[pktc.AuthAlgorithm]{Value: pktc.AuthSHA1HMAC},
		Transform: pktc.Field[pktc.EncryptionTransform]{Value: pktc.TransformDES},
	}}}
}

func encode(t *testing.T, msg *pktc.Message) []byte {
	t.Helper()
	data, err := pktc.Encode(msg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	return data
}

// writeCapture writes an exchange of a request, its reply and a truncated
// request from a second client.
func writeCapture(t *testing.T) string {
	t.Helper()
	hdr := func(kmmid pktc.KMMID) pktc.Header {
		return pktc.Header{
			Type:         pktc.Field[pktc.KMMID]{Value: kmmid},
			DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOISNMPv3},
			VersionMajor: pktc.Field[uint8]{Value: 1},
		}
	}
	appData := &pktc.AppData{
		EngineID: pktc.Field[[]byte]{Value: []byte{0x80, 0x01}},
		UserName: pktc.Field[string]{Value: "mta-1"},
	}

	req := encode(t, &pktc.Message{
		Header: hdr(pktc.KMMIDAPRequest),
		Body: &pktc.APRequest{
			AuthBlob:     pktc.Field[[]byte]{Value: []byte{0x6e, 0x02, 0x30, 0x00}},
			ServerNonce:  pktc.Field[uint32]{Value: 1},
			AppData:      appData,
			Ciphersuites: snmpSuite(),
			MAC:          pktc.Field[[]byte]{Value: make([]byte, pktc.MACSize)},
		},
	})
	rep := encode(t, &pktc.Message{
		Header: hdr(pktc.KMMIDAPReply),
		Body: &pktc.APReply{
			AuthBlob:     pktc.Field[[]byte]{Value: []byte{0x6f, 0x02, 0x30, 0x00}},
			AppData:      appData,
			Ciphersuites: snmpSuite(),
			Lifetime:     pktc.Field[uint32]{Value: 3600},
			MAC:          pktc.Field[[]byte]{Value: make([]byte, pktc.MACSize)},
		},
	})
	truncated := req[:10]

	path := filepath.Join(t.TempDir(), "pktc.pcapng")
	w, err := capture.NewPcapWriter(path)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opts := capture.DefaultFrameOptions()
	other := opts
	other.Src.IP = net.IPv4(10, 0, 0, 3)

	frames := []struct {
		data []byte
		opts capture.FrameOptions
	}{
		{req, opts},
		{rep, opts.Reverse()},
		{truncated, other},
	}
	for i, f := range frames {
		if err := w.WriteMessage(ts.Add(time.Duration(i)*time.Second), f.data, f.opts); err != nil {
			t.Fatalf("Failed to write frame %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipelineIndexesAndSkips(t *testing.T) {
	path := writeCapture(t)
	ctx := context.Background()

	res, err := New(Config{PcapPath: path, BatchSize: 2, Logger: zerolog.Nop()}).Run(ctx)
	if err != nil {
		t.Fatalf("Failed to index: %v", err)
	}
	if res.Skipped || res.TotalPackets != 3 || res.TotalMessages != 3 || res.Malformed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TotalFlows != 2 || res.TotalEvents != 1 {
		t.Errorf("flows = %d, events = %d", res.TotalFlows, res.TotalEvents)
	}

	if needs, err := NeedsReindex(path); err != nil || needs {
		t.Errorf("NeedsReindex = %v, %v", needs, err)
	}

	again, err := New(Config{PcapPath: path, Logger: zerolog.Nop()}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped || again.TotalMessages != 3 {
		t.Errorf("second run = %+v, want skipped", again)
	}

	forced, err := New(Config{PcapPath: path, Force: true, Logger: zerolog.Nop()}).Run(ctx)
	if err != nil {
		t.Fatalf("Failed to force re-index: %v", err)
	}
	if forced.Skipped || forced.TotalMessages != 3 {
		t.Errorf("forced run = %+v", forced)
	}

	e, err := query.NewFromPcap(path)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if !e.IsIndexed(ctx) {
		t.Error("index not marked complete")
	}
	counts, err := e.CountByKMMID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %d kmmid rows, want 2", len(counts))
	}
	if counts[0].Count != 2 || counts[0].Malformed != 1 || counts[1].Count != 1 {
		t.Errorf("counts = %+v %+v", counts[0], counts[1])
	}

	replies, err := e.GetMessages(ctx, query.MessageFilter{KMMIDs: []int{int(pktc.KMMIDAPReply)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 || replies[0].UserName != "mta-1" || replies[0].Lifetime != 3600 || replies[0].Number != 2 {
		t.Errorf("replies = %+v", replies)
	}

	events, err := e.GetExpertEvents(ctx, query.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Severity != model.SeverityError || events[0].PacketStart != 3 || events[0].FlowID == "" {
		t.Errorf("events = %+v", events)
	}
}

func TestPipelineCancelled(t *testing.T) {
	path := writeCapture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(Config{PcapPath: path, Logger: zerolog.Nop()}).Run(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if needs, _ := NeedsReindex(path); !needs {
		t.Error("interrupted index must not be reported current")
	}
}

func TestPipelineMissingFile(t *testing.T) {
	_, err := New(Config{PcapPath: filepath.Join(t.TempDir(), "missing.pcap")}).Run(context.Background())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Zerofisher/pktcanalyzer/pkg/model"
	"github.com/Zerofisher/pktcanalyzer/pkg/store/sqlite"
)

func newEngine(t *testing.T) *SQLiteEngine {
	t.Helper()
	s, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "q.idx.db")})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	msgs := []*model.MessageSummary{
		{Number: 1, TimestampNS: 100, SrcIP: "10.0.0.2", DstIP: "10.0.0.1", HeaderOK: true, KMMID: 2, KMMIDName: "AP Request", UserName: "alice", ErrOffset: -1, FlowID: "f1"},
		{Number: 2, TimestampNS: 200, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", HeaderOK: true, KMMID: 3, KMMIDName: "AP Reply", UserName: "alice", Lifetime: 3600, ErrOffset: -1, FlowID: "f1"},
		{Number: 3, TimestampNS: 300, SrcIP: "10.0.0.3", DstIP: "10.0.0.1", HeaderOK: true, KMMID: 2, KMMIDName: "AP Request", Malformed: true, Error: "truncated", ErrOffset: 7, FlowID: "f2"},
		{Number: 4, TimestampNS: 400, SrcIP: "10.0.0.3", DstIP: "10.0.0.1", ErrOffset: 0, Malformed: true},
	}
	events := []*model.ExpertEvent{
		{ID: "3-0", Severity: model.SeverityError, Group: "Malformed", Type: "Malformed PKTC Message", Message: "truncated", PacketStart: 3, PacketEnd: 3, FlowID: "f2"},
		{ID: "1-1", Severity: model.SeverityNote, Group: "Security", Type: "MD5-HMAC Authentication", Message: "md5", PacketStart: 1, PacketEnd: 2, FlowID: "f1"},
	}
	flows := []*model.Flow{
		{ID: "f1", SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Messages: 2, Requests: 1, Replies: 1, MessageNumbers: []int{1, 2}},
		{ID: "f2", SrcIP: "10.0.0.1", DstIP: "10.0.0.3", Messages: 1, Malformed: 1, MessageNumbers: []int{3}},
	}

	if err := s.BeginBatch(); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMessages(msgs); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertFlows(flows); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertExpertEvents(events); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitBatch(); err != nil {
		t.Fatal(err)
	}
	return NewSQLiteEngine(s, "q")
}

func TestGetMessages(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter MessageFilter
		want   []int
	}{
		{"all", MessageFilter{}, []int{1, 2, 3, 4}},
		{"requests", MessageFilter{KMMIDs: []int{2}}, []int{1, 3}},
		{"request or reply", MessageFilter{KMMIDs: []int{2, 3}}, []int{1, 2, 3}},
		{"malformed", MessageFilter{MalformedOnly: true}, []int{3, 4}},
		{"user", MessageFilter{UserName: "alice"}, []int{1, 2}},
		{"ip", MessageFilter{IP: "10.0.0.3"}, []int{3, 4}},
		{"desc limited", MessageFilter{SortOrder: "desc", Limit: 2}, []int{4, 3}},
		{"offset", MessageFilter{Offset: 3}, []int{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := e.GetMessages(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Failed to query: %v", err)
			}
			var got []int
			for _, m := range msgs {
				got = append(got, m.Number)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestGetMessage(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	m, err := e.GetMessage(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Malformed || m.ErrOffset != 7 || m.KMMIDName != "AP Request" {
		t.Errorf("message 3 = %+v", m)
	}
	if _, err := e.GetMessage(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCountByKMMID(t *testing.T) {
	e := newEngine(t)

	counts, err := e.CountByKMMID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %d rows, want 2 (header-less message excluded)", len(counts))
	}
	if counts[0].KMMID != 2 || counts[0].Count != 2 || counts[0].Malformed != 1 || counts[0].Name != "AP Request" {
		t.Errorf("row 0 = %+v", counts[0])
	}
	if counts[1].KMMID != 3 || counts[1].Count != 1 {
		t.Errorf("row 1 = %+v", counts[1])
	}
}

func TestExpertEventsAndFlows(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	events, err := e.GetExpertEvents(ctx, EventFilter{MinSeverity: model.SeverityWarning})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Severity != model.SeverityError {
		t.Errorf("events = %+v", events)
	}

	byPacket, err := e.GetExpertEventsByPacket(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(byPacket) != 1 || byPacket[0].ID != "1-1" {
		t.Errorf("events for packet 2 = %+v", byPacket)
	}

	summary, err := e.GetEventSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalEvents != 2 || summary.BySeverity[model.SeverityNote] != 1 || summary.TopEvents[0].ID != "3-0" {
		t.Errorf("summary = %+v", summary)
	}

	flows, err := e.GetFlows(ctx, FlowFilter{MalformedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(flows) != 1 || flows[0].ID != "f2" || len(flows[0].MessageNumbers) != 1 {
		t.Errorf("flows = %+v", flows)
	}
}

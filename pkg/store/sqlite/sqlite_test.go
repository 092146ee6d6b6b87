package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Zerofisher/pktcanalyzer/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.idx.db")})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.GetMeta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.IndexComplete || meta.SchemaVersion != 0 {
		t.Errorf("fresh store meta = %+v", meta)
	}

	modified := time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC)
	want := &model.IndexMeta{
		SchemaVersion: 1,
		PcapPath:      "/tmp/x.pcap",
		PcapSize:      1234,
		PcapModified:  modified,
		IndexedAt:     modified.Add(time.Hour),
		TotalPackets:  10,
		TotalMessages: 7,
		DurationNS:    99,
		IndexComplete: true,
	}
	if err := s.SetMeta(want); err != nil {
		t.Fatalf("Failed to set meta: %v", err)
	}

	got, err := s.GetMeta()
	if err != nil {
		t.Fatal(err)
	}
	if !got.PcapModified.Equal(want.PcapModified) || got.PcapSize != 1234 || got.TotalMessages != 7 || !got.IndexComplete {
		t.Errorf("meta = %+v", got)
	}
}

func TestBatchAndReset(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertMessages([]*model.MessageSummary{{Number: 1}}); err == nil {
		t.Fatal("expected error inserting outside a batch")
	}

	if err := s.BeginBatch(); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBatch(); err == nil {
		t.Error("expected error for nested batch")
	}
	msgs := []*model.MessageSummary{
		{Number: 1, HeaderOK: true, KMMID: 2, ErrOffset: -1},
		{Number: 2, HeaderOK: true, KMMID: 3, ErrOffset: -1},
	}
	if err := s.InsertMessages(msgs); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := s.UpsertFlows([]*model.Flow{{ID: "f", SrcIP: "a", DstIP: "b", MessageNumbers: []int{1, 2}}}); err != nil {
		t.Fatalf("Failed to upsert flow: %v", err)
	}
	if err := s.InsertExpertEvents([]*model.ExpertEvent{{ID: "1-0", Severity: model.SeverityNote, Group: "Protocol", Type: "t", Message: "m"}}); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}
	if err := s.CommitBatch(); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("messages = %d, %v", n, err)
	}

	// rolled back rows are not visible
	s.BeginBatch()
	s.InsertMessages([]*model.MessageSummary{{Number: 3}})
	if err := s.RollbackBatch(); err != nil {
		t.Fatal(err)
	}
	s.DB().QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	if n != 2 {
		t.Errorf("messages after rollback = %d, want 2", n)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"messages", "flows", "expert_events"} {
		s.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		if n != 0 {
			t.Errorf("%s has %d rows after reset", table, n)
		}
	}

	// same primary keys can be written again
	s.BeginBatch()
	if err := s.InsertMessages(msgs); err != nil {
		t.Fatalf("Failed to re-insert after reset: %v", err)
	}
	s.CommitBatch()
}

// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Zerofisher/pktcanalyzer/pkg/model"
	"github.com/Zerofisher/pktcanalyzer/pkg/store"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config

	// Write transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt // Prepared statements within tx
}

var _ store.Store = (*SQLiteStore)(nil)

// IndexPath is the index file that belongs to a pcap.
func IndexPath(pcapPath string) string {
	return pcapPath + ".idx.db"
}

// New creates a new SQLite store.
func New(cfg Config) (*SQLiteStore, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := "file:" + cfg.DBPath + "?_busy_timeout=5000"
	if cfg.ReadOnly {
		dsn += "&mode=ro"
	}
	if cfg.WAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:    db,
		path:  cfg.DBPath,
		cfg:   cfg,
		stmts: make(map[string]*sql.Stmt),
	}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return s, nil
}

// NewFromPcap creates a store with the standard naming convention.
func NewFromPcap(pcapPath string, readOnly bool) (*SQLiteStore, error) {
	return New(Config{
		DBPath:   IndexPath(pcapPath),
		ReadOnly: readOnly,
		WAL:      !readOnly,
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB returns the underlying database connection for read queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Meta table for index metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- One row per PKTC message (summaries only, no raw data)
CREATE TABLE IF NOT EXISTS messages (
	number       INTEGER PRIMARY KEY,
	timestamp_ns INTEGER NOT NULL,
	frame_length INTEGER NOT NULL,
	src_ip       TEXT,
	dst_ip       TEXT,
	src_port     INTEGER,
	dst_port     INTEGER,
	header_ok    INTEGER NOT NULL,
	kmmid        INTEGER,
	kmmid_name   TEXT,
	doi          INTEGER,
	version      TEXT,
	length       INTEGER,
	user_name    TEXT,
	engine_id    TEXT,
	ciphersuites TEXT,
	lifetime     INTEGER,
	trailing     INTEGER,
	malformed    INTEGER NOT NULL,
	error        TEXT,
	err_offset   INTEGER,
	info         TEXT,
	flow_id      TEXT
);

CREATE TABLE IF NOT EXISTS flows (
	id              TEXT PRIMARY KEY,
	src_ip          TEXT NOT NULL,
	dst_ip          TEXT NOT NULL,
	src_port        INTEGER,
	dst_port        INTEGER,
	start_ns        INTEGER NOT NULL,
	end_ns          INTEGER,
	messages        INTEGER NOT NULL DEFAULT 0,
	bytes           INTEGER NOT NULL DEFAULT 0,
	requests        INTEGER NOT NULL DEFAULT 0,
	replies         INTEGER NOT NULL DEFAULT 0,
	malformed       INTEGER NOT NULL DEFAULT 0,
	message_numbers TEXT -- JSON array of frame numbers
);

CREATE TABLE IF NOT EXISTS expert_events (
	id           TEXT PRIMARY KEY,
	timestamp_ns INTEGER NOT NULL,
	severity     INTEGER NOT NULL,
	grp          TEXT NOT NULL,
	type         TEXT NOT NULL,
	message      TEXT NOT NULL,
	flow_id      TEXT,
	packet_start INTEGER,
	packet_end   INTEGER
);

CREATE INDEX IF NOT EXISTS idx_messages_kmmid ON messages(kmmid);
CREATE INDEX IF NOT EXISTS idx_messages_flow ON messages(flow_id);
CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_name);

CREATE INDEX IF NOT EXISTS idx_expert_severity ON expert_events(severity);
CREATE INDEX IF NOT EXISTS idx_expert_packet ON expert_events(packet_start);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Metadata Operations
// ────────────────────────────────────────────────────────────────────────────────

// GetMeta retrieves the index metadata. An empty index yields a zero meta.
func (s *SQLiteStore) GetMeta() (*model.IndexMeta, error) {
	meta := &model.IndexMeta{}

	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "schema_version":
			meta.SchemaVersion, _ = strconv.Atoi(value)
		case "pcap_path":
			meta.PcapPath = value
		case "pcap_size":
			meta.PcapSize, _ = strconv.ParseInt(value, 10, 64)
		case "pcap_modified":
			meta.PcapModified, _ = time.Parse(time.RFC3339Nano, value)
		case "indexed_at":
			meta.IndexedAt, _ = time.Parse(time.RFC3339Nano, value)
		case "total_packets":
			meta.TotalPackets, _ = strconv.Atoi(value)
		case "total_messages":
			meta.TotalMessages, _ = strconv.Atoi(value)
		case "duration_ns":
			meta.DurationNS, _ = strconv.ParseInt(value, 10, 64)
		case "index_complete":
			meta.IndexComplete = value == "true"
		}
	}

	return meta, rows.Err()
}

// SetMeta stores the index metadata.
func (s *SQLiteStore) SetMeta(meta *model.IndexMeta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	pairs := []struct{ k, v string }{
		{"schema_version", strconv.Itoa(meta.SchemaVersion)},
		{"pcap_path", meta.PcapPath},
		{"pcap_size", strconv.FormatInt(meta.PcapSize, 10)},
		{"pcap_modified", meta.PcapModified.Format(time.RFC3339Nano)},
		{"indexed_at", meta.IndexedAt.Format(time.RFC3339Nano)},
		{"total_packets", strconv.Itoa(meta.TotalPackets)},
		{"total_messages", strconv.Itoa(meta.TotalMessages)},
		{"duration_ns", strconv.FormatInt(meta.DurationNS, 10)},
		{"index_complete", strconv.FormatBool(meta.IndexComplete)},
	}

	for _, p := range pairs {
		if _, err := stmt.Exec(p.k, p.v); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Reset removes all indexed rows and marks the index incomplete.
func (s *SQLiteStore) Reset() error {
	_, err := s.db.Exec(`
DELETE FROM messages;
DELETE FROM flows;
DELETE FROM expert_events;
INSERT OR REPLACE INTO meta (key, value) VALUES ('index_complete', 'false');
`)
	if err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Batch Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// BeginBatch starts a batch write transaction.
func (s *SQLiteStore) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return fmt.Errorf("batch already in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	s.tx = tx
	s.stmts = make(map[string]*sql.Stmt)
	return nil
}

// CommitBatch commits the current batch.
func (s *SQLiteStore) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	s.closeStmts()
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// RollbackBatch rolls back the current batch.
func (s *SQLiteStore) RollbackBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	s.closeStmts()
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *SQLiteStore) closeStmts() {
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil
}

// getStmt must be called with mu held and a batch in progress.
func (s *SQLiteStore) getStmt(name, query string) (*sql.Stmt, error) {
	if s.tx == nil {
		return nil, fmt.Errorf("no batch in progress")
	}
	if stmt, ok := s.stmts[name]; ok {
		return stmt, nil
	}

	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[name] = stmt
	return stmt, nil
}

// InsertMessages inserts message summaries in the current batch.
func (s *SQLiteStore) InsertMessages(messages []*model.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `INSERT INTO messages (
		number, timestamp_ns, frame_length,
		src_ip, dst_ip, src_port, dst_port,
		header_ok, kmmid, kmmid_name, doi, version,
		length, user_name, engine_id, ciphersuites, lifetime, trailing,
		malformed, error, err_offset, info, flow_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_message", query)
	if err != nil {
		return err
	}

	for _, m := range messages {
		_, err = stmt.Exec(
			m.Number, m.TimestampNS, m.FrameLength,
			m.SrcIP, m.DstIP, m.SrcPort, m.DstPort,
			m.HeaderOK, m.KMMID, m.KMMIDName, m.DOI, m.Version,
			m.Length, m.UserName, m.EngineID, m.Ciphersuites, m.Lifetime, m.Trailing,
			m.Malformed, m.Error, m.ErrOffset, m.Info, m.FlowID,
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", m.Number, err)
		}
	}
	return nil
}

// UpsertFlows inserts or updates flows in the current batch.
func (s *SQLiteStore) UpsertFlows(flows []*model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `INSERT INTO flows (
		id, src_ip, dst_ip, src_port, dst_port, start_ns, end_ns,
		messages, bytes, requests, replies, malformed, message_numbers
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		end_ns = excluded.end_ns,
		messages = excluded.messages,
		bytes = excluded.bytes,
		requests = excluded.requests,
		replies = excluded.replies,
		malformed = excluded.malformed,
		message_numbers = excluded.message_numbers`

	stmt, err := s.getStmt("upsert_flow", query)
	if err != nil {
		return err
	}

	for _, f := range flows {
		numbers, err := json.Marshal(f.MessageNumbers)
		if err != nil {
			return err
		}
		_, err = stmt.Exec(
			f.ID, f.SrcIP, f.DstIP, f.SrcPort, f.DstPort, f.StartNS, f.EndNS,
			f.Messages, f.Bytes, f.Requests, f.Replies, f.Malformed, string(numbers),
		)
		if err != nil {
			return fmt.Errorf("upsert flow %s: %w", f.ID, err)
		}
	}
	return nil
}

// InsertExpertEvents inserts expert events in the current batch.
func (s *SQLiteStore) InsertExpertEvents(events []*model.ExpertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `INSERT INTO expert_events (
		id, timestamp_ns, severity, grp, type, message, flow_id, packet_start, packet_end
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_expert", query)
	if err != nil {
		return err
	}

	for _, e := range events {
		_, err = stmt.Exec(
			e.ID, e.TimestampNS, e.Severity.Order(), e.Group, e.Type,
			e.Message, e.FlowID, e.PacketStart, e.PacketEnd,
		)
		if err != nil {
			return fmt.Errorf("insert expert event %s: %w", e.ID, err)
		}
	}
	return nil
}

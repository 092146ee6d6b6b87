package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Zerofisher/pktcanalyzer/pkg/model"
	"github.com/Zerofisher/pktcanalyzer/pkg/store/sqlite"
)

// ErrNotFound is returned when a single-row lookup has no result.
var ErrNotFound = errors.New("not found")

// SQLiteEngine implements QueryEngine using SQLite storage.
type SQLiteEngine struct {
	store    *sqlite.SQLiteStore
	pcapPath string
}

var _ QueryEngine = (*SQLiteEngine)(nil)

// NewSQLiteEngine creates a new SQLite-backed query engine.
func NewSQLiteEngine(store *sqlite.SQLiteStore, pcapPath string) *SQLiteEngine {
	return &SQLiteEngine{
		store:    store,
		pcapPath: pcapPath,
	}
}

// NewFromPcap opens an existing index for a pcap file.
func NewFromPcap(pcapPath string) (*SQLiteEngine, error) {
	store, err := sqlite.NewFromPcap(pcapPath, true)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return NewSQLiteEngine(store, pcapPath), nil
}

// Close closes the underlying store.
func (e *SQLiteEngine) Close() error {
	return e.store.Close()
}

const messageColumns = `number, timestamp_ns, frame_length,
	src_ip, dst_ip, src_port, dst_port,
	header_ok, kmmid, kmmid_name, doi, version,
	length, user_name, engine_id, ciphersuites, lifetime, trailing,
	malformed, error, err_offset, info, flow_id`

// GetMessage retrieves a single message by frame number.
func (e *SQLiteEngine) GetMessage(ctx context.Context, number int) (*model.MessageSummary, error) {
	row := e.store.DB().QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE number = ?`, number)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", number, ErrNotFound)
	}
	return m, err
}

// GetMessages retrieves messages with optional filtering.
func (e *SQLiteEngine) GetMessages(ctx context.Context, filter MessageFilter) ([]*model.MessageSummary, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	args := []interface{}{}

	if len(filter.KMMIDs) > 0 {
		query += fmt.Sprintf(" AND header_ok = 1 AND kmmid IN (%s)", placeholders(len(filter.KMMIDs)))
		for _, id := range filter.KMMIDs {
			args = append(args, id)
		}
	}
	if filter.IP != "" {
		query += " AND (src_ip = ? OR dst_ip = ?)"
		args = append(args, filter.IP, filter.IP)
	}
	if filter.Port > 0 {
		query += " AND (src_port = ? OR dst_port = ?)"
		args = append(args, filter.Port, filter.Port)
	}
	if filter.UserName != "" {
		query += " AND user_name = ?"
		args = append(args, filter.UserName)
	}
	if filter.MalformedOnly {
		query += " AND malformed = 1"
	}
	if filter.FlowID != "" {
		query += " AND flow_id = ?"
		args = append(args, filter.FlowID)
	}
	if filter.SearchText != "" {
		query += " AND info LIKE ?"
		args = append(args, "%"+filter.SearchText+"%")
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp_ns >= ?"
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp_ns <= ?"
		args = append(args, filter.EndTime.UnixNano())
	}

	sortCol := "number"
	switch filter.SortBy {
	case "timestamp":
		sortCol = "timestamp_ns"
	case "kmmid":
		sortCol = "kmmid"
	case "length":
		sortCol = "length"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, number ASC", sortCol, sortOrder(filter.SortOrder, "ASC"))
	query += pagination(filter.Limit, filter.Offset)

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.MessageSummary
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetMessageCount returns total message count.
func (e *SQLiteEngine) GetMessageCount(ctx context.Context) (int, error) {
	var count int
	err := e.store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}

// CountByKMMID counts messages per message id. Messages whose header did not
// decode are not counted.
func (e *SQLiteEngine) CountByKMMID(ctx context.Context) ([]*model.KMMIDCount, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT kmmid, MAX(kmmid_name), COUNT(*), SUM(malformed)
		FROM messages
		WHERE header_ok = 1
		GROUP BY kmmid
		ORDER BY kmmid`)
	if err != nil {
		return nil, fmt.Errorf("count by kmmid: %w", err)
	}
	defer rows.Close()

	var counts []*model.KMMIDCount
	for rows.Next() {
		c := &model.KMMIDCount{}
		if err := rows.Scan(&c.KMMID, &c.Name, &c.Count, &c.Malformed); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetFlows retrieves flows with optional filtering.
func (e *SQLiteEngine) GetFlows(ctx context.Context, filter FlowFilter) ([]*model.Flow, error) {
	query := `SELECT id, src_ip, dst_ip, src_port, dst_port, start_ns, end_ns,
	                 messages, bytes, requests, replies, malformed, message_numbers
	          FROM flows WHERE 1=1`
	args := []interface{}{}

	if filter.IP != "" {
		query += " AND (src_ip = ? OR dst_ip = ?)"
		args = append(args, filter.IP, filter.IP)
	}
	if filter.MalformedOnly {
		query += " AND malformed > 0"
	}

	sortCol := "messages"
	switch filter.SortBy {
	case "bytes":
		sortCol = "bytes"
	case "start_time":
		sortCol = "start_ns"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", sortCol, sortOrder(filter.SortOrder, "DESC"))
	query += pagination(filter.Limit, filter.Offset)

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	var flows []*model.Flow
	for rows.Next() {
		f := &model.Flow{}
		var numbers sql.NullString
		err := rows.Scan(
			&f.ID, &f.SrcIP, &f.DstIP, &f.SrcPort, &f.DstPort, &f.StartNS, &f.EndNS,
			&f.Messages, &f.Bytes, &f.Requests, &f.Replies, &f.Malformed, &numbers,
		)
		if err != nil {
			return nil, err
		}
		if numbers.Valid && numbers.String != "" {
			if err := json.Unmarshal([]byte(numbers.String), &f.MessageNumbers); err != nil {
				return nil, fmt.Errorf("flow %s: %w", f.ID, err)
			}
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

const eventColumns = `id, timestamp_ns, severity, grp, type, message, flow_id, packet_start, packet_end`

// GetExpertEvents retrieves expert events with optional filtering.
func (e *SQLiteEngine) GetExpertEvents(ctx context.Context, filter EventFilter) ([]*model.ExpertEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM expert_events WHERE 1=1`
	args := []interface{}{}

	if order := filter.MinSeverity.Order(); order > 0 {
		query += " AND severity >= ?"
		args = append(args, order)
	}
	if len(filter.Groups) > 0 {
		query += fmt.Sprintf(" AND grp IN (%s)", placeholders(len(filter.Groups)))
		for _, g := range filter.Groups {
			args = append(args, g)
		}
	}
	if filter.FlowID != "" {
		query += " AND flow_id = ?"
		args = append(args, filter.FlowID)
	}
	if filter.SearchText != "" {
		query += " AND message LIKE ?"
		args = append(args, "%"+filter.SearchText+"%")
	}

	sortCol, defaultOrder := "severity", "DESC"
	switch filter.SortBy {
	case "timestamp":
		sortCol, defaultOrder = "timestamp_ns", "ASC"
	case "packet":
		sortCol, defaultOrder = "packet_start", "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, packet_start ASC, id ASC", sortCol, sortOrder(filter.SortOrder, defaultOrder))
	query += pagination(filter.Limit, filter.Offset)

	return e.queryEvents(ctx, query, args...)
}

// GetExpertEventsByPacket returns events that reference a specific frame.
func (e *SQLiteEngine) GetExpertEventsByPacket(ctx context.Context, packetNum int) ([]*model.ExpertEvent, error) {
	return e.queryEvents(ctx, `SELECT `+eventColumns+` FROM expert_events
		WHERE packet_start <= ? AND packet_end >= ?
		ORDER BY severity DESC, id ASC`,
		packetNum, packetNum)
}

func (e *SQLiteEngine) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*model.ExpertEvent, error) {
	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expert events: %w", err)
	}
	defer rows.Close()

	var events []*model.ExpertEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventSummary returns a summary of expert events.
func (e *SQLiteEngine) GetEventSummary(ctx context.Context) (*EventSummary, error) {
	summary := &EventSummary{
		BySeverity: make(map[model.Severity]int),
		ByGroup:    make(map[string]int),
	}

	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM expert_events GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sev, count int
		if err := rows.Scan(&sev, &count); err != nil {
			rows.Close()
			return nil, err
		}
		summary.TotalEvents += count
		summary.BySeverity[model.SeverityFromOrder(sev)] = count
	}
	rows.Close()

	rows, err = e.store.DB().QueryContext(ctx, `
		SELECT grp, COUNT(*) FROM expert_events GROUP BY grp`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var grp string
		var count int
		if err := rows.Scan(&grp, &count); err != nil {
			rows.Close()
			return nil, err
		}
		summary.ByGroup[grp] = count
	}
	rows.Close()

	summary.TopEvents, err = e.GetExpertEvents(ctx, EventFilter{Limit: 10})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// GetIndexMeta returns index metadata.
func (e *SQLiteEngine) GetIndexMeta(ctx context.Context) (*model.IndexMeta, error) {
	return e.store.GetMeta()
}

// IsIndexed returns whether the pcap is fully indexed.
func (e *SQLiteEngine) IsIndexed(ctx context.Context) bool {
	meta, err := e.store.GetMeta()
	return err == nil && meta.IndexComplete
}

// ────────────────────────────────────────────────────────────────────────────────
// Scanner helpers
// ────────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*model.MessageSummary, error) {
	m := &model.MessageSummary{}
	var srcIP, dstIP, kmmidName, version, userName, engineID, suites, errText, info, flowID sql.NullString
	var srcPort, dstPort, kmmid, doi, length, lifetime, trailing, errOffset sql.NullInt64

	err := row.Scan(
		&m.Number, &m.TimestampNS, &m.FrameLength,
		&srcIP, &dstIP, &srcPort, &dstPort,
		&m.HeaderOK, &kmmid, &kmmidName, &doi, &version,
		&length, &userName, &engineID, &suites, &lifetime, &trailing,
		&m.Malformed, &errText, &errOffset, &info, &flowID,
	)
	if err != nil {
		return nil, err
	}

	m.SrcIP = srcIP.String
	m.DstIP = dstIP.String
	m.SrcPort = int(srcPort.Int64)
	m.DstPort = int(dstPort.Int64)
	m.KMMID = int(kmmid.Int64)
	m.KMMIDName = kmmidName.String
	m.DOI = int(doi.Int64)
	m.Version = version.String
	m.Length = int(length.Int64)
	m.UserName = userName.String
	m.EngineID = engineID.String
	m.Ciphersuites = suites.String
	m.Lifetime = lifetime.Int64
	m.Trailing = int(trailing.Int64)
	m.Error = errText.String
	m.ErrOffset = int(errOffset.Int64)
	m.Info = info.String
	m.FlowID = flowID.String

	return m, nil
}

func scanEvent(row rowScanner) (*model.ExpertEvent, error) {
	e := &model.ExpertEvent{}
	var severity int
	var flowID sql.NullString
	var packetStart, packetEnd sql.NullInt64

	err := row.Scan(
		&e.ID, &e.TimestampNS, &severity, &e.Group, &e.Type,
		&e.Message, &flowID, &packetStart, &packetEnd,
	)
	if err != nil {
		return nil, err
	}

	e.Severity = model.SeverityFromOrder(severity)
	e.FlowID = flowID.String
	e.PacketStart = int(packetStart.Int64)
	e.PacketEnd = int(packetEnd.Int64)

	return e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func sortOrder(requested, fallback string) string {
	switch strings.ToLower(requested) {
	case "asc":
		return "ASC"
	case "desc":
		return "DESC"
	}
	return fallback
}

func pagination(limit, offset int) string {
	var s string
	if limit > 0 {
		s += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		if limit <= 0 {
			s += " LIMIT -1"
		}
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}

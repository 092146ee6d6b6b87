// Package ingest indexes pcap files. It decodes every PKTC message, runs the
// expert analysis, aggregates flows and writes the results to a store.
package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/expert"
	"github.com/Zerofisher/pktcanalyzer/pkg/model"
	"github.com/Zerofisher/pktcanalyzer/pkg/store"
	"github.com/Zerofisher/pktcanalyzer/pkg/store/sqlite"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// Config holds configuration for the ingest pipeline.
type Config struct {
	// PcapPath is the path to the pcap/pcapng file.
	PcapPath string

	// BatchSize is the number of messages per batch commit.
	// Defaults to 1000 if <= 0.
	BatchSize int

	// BPFFilter is an optional BPF filter expression.
	BPFFilter string

	// Force re-indexes even when the existing index is current.
	Force bool

	Logger zerolog.Logger

	// ProgressCallback is called every BatchSize packets.
	ProgressCallback func(processed int, elapsed time.Duration)
}

// Result holds the result of an ingest operation.
type Result struct {
	IndexPath     string
	TotalPackets  int
	TotalMessages int
	TotalFlows    int
	TotalEvents   int
	Malformed     int
	Duration      time.Duration
	Skipped       bool // index was already current
}

// Pipeline is the main ingest pipeline.
type Pipeline struct {
	cfg    Config
	log    zerolog.Logger
	store  *sqlite.SQLiteStore
	expert *expert.Analyzer

	processed atomic.Int64
	messages  atomic.Int64
	malformed atomic.Int64

	// Flow aggregation
	flowMu sync.Mutex
	flows  map[string]*model.Flow
	// frame number to flow id, for attaching flows to expert events
	frameFlows map[int]string
}

// New creates a new ingest pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Pipeline{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "ingest").Str("pcap", cfg.PcapPath).Logger(),
		expert:     expert.NewAnalyzer(),
		flows:      make(map[string]*model.Flow),
		frameFlows: make(map[int]string),
	}
}

// Run executes the ingest pipeline. Cancelling ctx stops reading and leaves
// the index marked incomplete.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	result := &Result{IndexPath: sqlite.IndexPath(p.cfg.PcapPath)}

	fileInfo, err := os.Stat(p.cfg.PcapPath)
	if err != nil {
		return nil, fmt.Errorf("stat pcap file: %w", err)
	}

	p.store, err = sqlite.NewFromPcap(p.cfg.PcapPath, false)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	defer p.store.Close()

	if !p.cfg.Force {
		meta, err := p.store.GetMeta()
		if err == nil && indexCurrent(meta, p.cfg.PcapPath, fileInfo) {
			p.log.Debug().Time("indexed_at", meta.IndexedAt).Msg("index is current, skipping")
			result.TotalPackets = meta.TotalPackets
			result.TotalMessages = meta.TotalMessages
			result.Skipped = true
			result.Duration = time.Since(startTime)
			return result, nil
		}
	}

	if err := p.store.Reset(); err != nil {
		return nil, err
	}

	capturer, err := capture.NewFileCapturer(p.cfg.PcapPath, p.cfg.BPFFilter)
	if err != nil {
		return nil, fmt.Errorf("create capturer: %w", err)
	}
	defer capturer.Stop()

	packetChan := capturer.Start()
	summaries := make(chan *model.MessageSummary, p.cfg.BatchSize*2)
	writeErr := make(chan error, 1)

	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		writeErr <- p.writerLoop(summaries)
	}()

	p.log.Info().Int64("size", fileInfo.Size()).Msg("indexing")

	var runErr error
read:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break read
		case pkt, ok := <-packetChan:
			if !ok {
				break read
			}
			n := p.processed.Add(1)
			if p.cfg.ProgressCallback != nil && n%int64(p.cfg.BatchSize) == 0 {
				p.cfg.ProgressCallback(int(n), time.Since(startTime))
			}
			if !pkt.IsPKTC() {
				continue
			}

			summary := p.convertMessage(&pkt)
			p.updateFlow(summary)
			p.expert.Analyze(&pkt)

			select {
			case summaries <- summary:
			case <-ctx.Done():
				runErr = ctx.Err()
				break read
			}
		}
	}

	if runErr == nil {
		runErr = ctx.Err()
	}

	close(summaries)
	writerWg.Wait()
	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("write messages: %w", err)
	}
	if runErr != nil {
		p.log.Warn().Err(runErr).Int64("packets", p.processed.Load()).Msg("indexing interrupted")
		return nil, runErr
	}

	p.expert.Finish()
	events := p.convertEvents(p.expert.GetInfos())
	flows := p.flowList()
	if err := p.flushTail(flows, events); err != nil {
		return nil, err
	}

	result.TotalPackets = int(p.processed.Load())
	result.TotalMessages = int(p.messages.Load())
	result.Malformed = int(p.malformed.Load())
	result.TotalFlows = len(flows)
	result.TotalEvents = len(events)
	result.Duration = time.Since(startTime)

	indexMeta := &model.IndexMeta{
		SchemaVersion: store.SchemaVersion,
		PcapPath:      p.cfg.PcapPath,
		PcapSize:      fileInfo.Size(),
		PcapModified:  fileInfo.ModTime(),
		IndexedAt:     time.Now(),
		TotalPackets:  result.TotalPackets,
		TotalMessages: result.TotalMessages,
		DurationNS:    result.Duration.Nanoseconds(),
		IndexComplete: true,
	}
	if err := p.store.SetMeta(indexMeta); err != nil {
		return nil, fmt.Errorf("save metadata: %w", err)
	}

	p.log.Info().
		Int("packets", result.TotalPackets).
		Int("messages", result.TotalMessages).
		Int("malformed", result.Malformed).
		Int("events", result.TotalEvents).
		Dur("took", result.Duration).
		Msg("index complete")

	return result, nil
}

// convertMessage converts a decoded packet to its stored summary.
func (p *Pipeline) convertMessage(pkt *capture.PacketInfo) *model.MessageSummary {
	p.messages.Add(1)

	m := &model.MessageSummary{
		Number:      pkt.Number,
		TimestampNS: pkt.Timestamp.UnixNano(),
		FrameLength: pkt.Length,
		SrcIP:       pkt.SrcIP,
		DstIP:       pkt.DstIP,
		SrcPort:     int(pkt.SrcPort),
		DstPort:     int(pkt.DstPort),
		Trailing:    pkt.Trailing,
		ErrOffset:   -1,
		Info:        pkt.Info,
	}

	if h := pkt.Header; h != nil {
		m.HeaderOK = true
		m.KMMID = int(h.Type.Value)
		m.KMMIDName = h.Type.Value.String()
		m.DOI = int(h.DOI.Value)
		m.Version = h.Version()
	}

	if pkt.DecodeErr != nil {
		p.malformed.Add(1)
		m.Malformed = true
		m.Error = pkt.DecodeErr.Error()
		m.ErrOffset = pktc.ErrorOffset(pkt.DecodeErr)
		m.Length = len(pkt.Payload)
	} else if msg := pkt.PKTC; msg != nil {
		m.Length = msg.Length
		if ad := msg.AppData(); ad != nil {
			m.UserName = ad.UserName.Value
			m.EngineID = fmt.Sprintf("%x", ad.EngineID.Value)
		}
		if cs := msg.Ciphersuites(); cs != nil {
			names := make([]string, 0, len(cs.Suites))
			for _, s := range cs.Suites {
				names = append(names, fmt.Sprintf("%s/%s", s.Auth.Value, s.Transform.Value))
			}
			m.Ciphersuites = strings.Join(names, ", ")
		}
		if rep := msg.Reply(); rep != nil {
			m.Lifetime = int64(rep.Lifetime.Value)
		}
	}

	if m.SrcIP != "" && m.DstIP != "" {
		m.FlowID = model.FlowKey{
			SrcIP:   m.SrcIP,
			DstIP:   m.DstIP,
			SrcPort: m.SrcPort,
			DstPort: m.DstPort,
		}.ID()
	}
	return m
}

// updateFlow updates flow aggregation state.
func (p *Pipeline) updateFlow(m *model.MessageSummary) {
	if m.FlowID == "" {
		return
	}

	p.flowMu.Lock()
	defer p.flowMu.Unlock()

	p.frameFlows[m.Number] = m.FlowID

	flow, exists := p.flows[m.FlowID]
	if !exists {
		key := model.FlowKey{
			SrcIP:   m.SrcIP,
			DstIP:   m.DstIP,
			SrcPort: m.SrcPort,
			DstPort: m.DstPort,
		}.Normalize()

		flow = &model.Flow{
			ID:      m.FlowID,
			SrcIP:   key.SrcIP,
			DstIP:   key.DstIP,
			SrcPort: key.SrcPort,
			DstPort: key.DstPort,
			StartNS: m.TimestampNS,
		}
		p.flows[m.FlowID] = flow
	}

	flow.Messages++
	flow.Bytes += int64(m.Length)
	flow.EndNS = m.TimestampNS
	switch {
	case m.Malformed:
		flow.Malformed++
	case m.KMMID == int(pktc.KMMIDAPRequest):
		flow.Requests++
	case m.KMMID == int(pktc.KMMIDAPReply):
		flow.Replies++
	}

	if len(flow.MessageNumbers) < 10 {
		flow.MessageNumbers = append(flow.MessageNumbers, m.Number)
	}
}

func (p *Pipeline) flowList() []*model.Flow {
	p.flowMu.Lock()
	defer p.flowMu.Unlock()

	flows := make([]*model.Flow, 0, len(p.flows))
	for _, f := range p.flows {
		flows = append(flows, f)
	}
	return flows
}

// convertEvents maps expert findings to stored events.
func (p *Pipeline) convertEvents(infos []*expert.ExpertInfo) []*model.ExpertEvent {
	p.flowMu.Lock()
	defer p.flowMu.Unlock()

	events := make([]*model.ExpertEvent, 0, len(infos))
	for i, info := range infos {
		end := info.PacketNum
		for _, n := range info.RelatedPkts {
			if n > end {
				end = n
			}
		}
		events = append(events, &model.ExpertEvent{
			ID:          fmt.Sprintf("%d-%d", info.PacketNum, i),
			Severity:    model.Severity(strings.ToLower(info.Severity.String())),
			Group:       string(info.Group),
			Type:        info.Summary,
			Message:     info.Details,
			TimestampNS: info.Timestamp.UnixNano(),
			FlowID:      p.frameFlows[info.PacketNum],
			PacketStart: info.PacketNum,
			PacketEnd:   end,
		})
	}
	return events
}

// writerLoop handles batch writing to the store.
func (p *Pipeline) writerLoop(messages <-chan *model.MessageSummary) error {
	batch := make([]*model.MessageSummary, 0, p.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.store.BeginBatch(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		if err := p.store.InsertMessages(batch); err != nil {
			p.store.RollbackBatch()
			return err
		}
		if err := p.store.CommitBatch(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		p.log.Debug().Int("messages", len(batch)).Msg("batch committed")
		batch = batch[:0]
		return nil
	}

	var err error
	for m := range messages {
		if err != nil {
			// keep draining so the reader never blocks
			continue
		}
		batch = append(batch, m)
		if len(batch) >= p.cfg.BatchSize {
			err = flush()
		}
	}
	if err != nil {
		return err
	}
	return flush()
}

// flushTail writes flows and expert events in one transaction.
func (p *Pipeline) flushTail(flows []*model.Flow, events []*model.ExpertEvent) error {
	if err := p.store.BeginBatch(); err != nil {
		return err
	}
	if err := p.store.UpsertFlows(flows); err != nil {
		p.store.RollbackBatch()
		return fmt.Errorf("write flows: %w", err)
	}
	if err := p.store.InsertExpertEvents(events); err != nil {
		p.store.RollbackBatch()
		return fmt.Errorf("write expert events: %w", err)
	}
	return p.store.CommitBatch()
}

func indexCurrent(meta *model.IndexMeta, pcapPath string, fi os.FileInfo) bool {
	return meta.IndexComplete &&
		meta.SchemaVersion == store.SchemaVersion &&
		meta.PcapPath == pcapPath &&
		meta.PcapSize == fi.Size() &&
		meta.PcapModified.Equal(fi.ModTime())
}

// NeedsReindex checks if a pcap file needs to be re-indexed.
func NeedsReindex(pcapPath string) (bool, error) {
	fileInfo, err := os.Stat(pcapPath)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(sqlite.IndexPath(pcapPath)); os.IsNotExist(err) {
		return true, nil
	}

	s, err := sqlite.NewFromPcap(pcapPath, true)
	if err != nil {
		return true, nil
	}
	defer s.Close()

	meta, err := s.GetMeta()
	if err != nil {
		return true, nil
	}
	return !indexCurrent(meta, pcapPath, fileInfo), nil
}

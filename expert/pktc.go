package expert

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// requestRecord tracks an AP Request until its reply is seen
type requestRecord struct {
	PacketNum int
	Timestamp time.Time
	UserName  string
}

// PKTCAnalysisContext holds state for PKTC analysis
type PKTCAnalysisContext struct {
	mu sync.Mutex
	// outstanding requests keyed by the flow they were sent on
	pending map[string]*requestRecord
}

// NewPKTCAnalysisContext creates a new PKTC analysis context
func NewPKTCAnalysisContext() *PKTCAnalysisContext {
	return &PKTCAnalysisContext{
		pending: make(map[string]*requestRecord),
	}
}

// Analyze processes a PKTC packet and returns any expert info
func (ctx *PKTCAnalysisContext) Analyze(pkt *capture.PacketInfo) []*ExpertInfo {
	if !pkt.IsPKTC() {
		return nil
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if pkt.DecodeErr != nil {
		return []*ExpertInfo{ctx.analyzeError(pkt)}
	}
	msg := pkt.PKTC
	if msg == nil {
		return nil
	}

	var results []*ExpertInfo

	if pkt.Trailing > 0 {
		results = append(results, newInfo(pkt, PKTCTrailingData,
			fmt.Sprintf("%d bytes after the %d byte message", pkt.Trailing, msg.Length)))
	}

	switch body := msg.Body.(type) {
	case *pktc.APRequest:
		results = append(results, ctx.analyzeRequest(pkt, body)...)
	case *pktc.APReply:
		results = append(results, ctx.analyzeReply(pkt, body)...)
	case nil:
		details := fmt.Sprintf("%s carries no body layout", msg.Type.Value)
		if !msg.Type.Value.Known() {
			details = fmt.Sprintf("unknown message id 0x%02x, decoded header only", uint8(msg.Type.Value))
		}
		results = append(results, newInfo(pkt, PKTCHeaderOnly, details))
	}

	results = append(results, analyzeSuites(pkt, msg.Ciphersuites())...)

	return results
}

// analyzeError classifies a decode failure
func (ctx *PKTCAnalysisContext) analyzeError(pkt *capture.PacketInfo) *ExpertInfo {
	kind := PKTCMalformed
	if errors.Is(pkt.DecodeErr, pktc.ErrUnsupportedDomainOrMessage) || errors.Is(pkt.DecodeErr, pktc.ErrUnsupportedDomain) {
		kind = PKTCUnsupportedLayout
	}
	details := pkt.DecodeErr.Error()
	if h := pkt.Header; h != nil {
		details = fmt.Sprintf("%s (%s): %v", h.Type.Value, h.DOI.Value, pkt.DecodeErr)
	}
	return newInfo(pkt, kind, details)
}

func (ctx *PKTCAnalysisContext) analyzeRequest(pkt *capture.PacketInfo, req *pktc.APRequest) []*ExpertInfo {
	var results []*ExpertInfo

	key := pkt.FlowKey()
	if prev, ok := ctx.pending[key]; ok {
		info := newInfo(pkt, PKTCUnansweredRequest,
			fmt.Sprintf("request #%d superseded before a reply", prev.PacketNum))
		info.PacketNum = prev.PacketNum
		info.Timestamp = prev.Timestamp
		info.RelatedPkts = []int{pkt.Number}
		results = append(results, info)
	}

	rec := &requestRecord{PacketNum: pkt.Number, Timestamp: pkt.Timestamp}
	if req.AppData != nil {
		rec.UserName = req.AppData.UserName.Value
	}
	ctx.pending[key] = rec

	if req.Reestablish.Value != 0 {
		results = append(results, newInfo(pkt, PKTCReestablish, "re-establish flag set on request"))
	}
	return results
}

func (ctx *PKTCAnalysisContext) analyzeReply(pkt *capture.PacketInfo, rep *pktc.APReply) []*ExpertInfo {
	var results []*ExpertInfo

	key := pkt.ReverseFlowKey()
	if req, ok := ctx.pending[key]; ok {
		delete(ctx.pending, key)
		if rep.AckRequired.Value != 0 {
			info := newInfo(pkt, PKTCAckRequired, fmt.Sprintf("reply to #%d requires an acknowledgement", req.PacketNum))
			info.RelatedPkts = []int{req.PacketNum}
			results = append(results, info)
		}
	} else {
		results = append(results, newInfo(pkt, PKTCUnsolicitedReply,
			fmt.Sprintf("no AP Request seen on %s", key)))
		if rep.AckRequired.Value != 0 {
			results = append(results, newInfo(pkt, PKTCAckRequired, "reply requires an acknowledgement"))
		}
	}

	if cs := rep.Ciphersuites; cs != nil && len(cs.Suites) != 1 {
		results = append(results, newInfo(pkt, PKTCReplySuiteCount,
			fmt.Sprintf("reply selects %d ciphersuites, expected exactly 1", len(cs.Suites))))
	}
	if rep.Reestablish.Value != 0 {
		results = append(results, newInfo(pkt, PKTCReestablish, "re-establish flag set on reply"))
	}
	return results
}

// analyzeSuites reports weak algorithms offered or selected, once per message
func analyzeSuites(pkt *capture.PacketInfo, cs *pktc.CiphersuiteList) []*ExpertInfo {
	if cs == nil {
		return nil
	}
	var nullIdx, md5Idx []int
	for i, s := range cs.Suites {
		if s.Transform.Value == pktc.TransformNull {
			nullIdx = append(nullIdx, i)
		}
		if s.Auth.Value == pktc.AuthMD5HMAC {
			md5Idx = append(md5Idx, i)
		}
	}

	var results []*ExpertInfo
	if len(nullIdx) > 0 {
		results = append(results, newInfo(pkt, PKTCNullEncryption,
			fmt.Sprintf("%d of %d ciphersuites without encryption (index %v)", len(nullIdx), len(cs.Suites), nullIdx)))
	}
	if len(md5Idx) > 0 {
		results = append(results, newInfo(pkt, PKTCWeakAuth,
			fmt.Sprintf("%d of %d ciphersuites use MD5-HMAC (index %v)", len(md5Idx), len(cs.Suites), md5Idx)))
	}
	return results
}

// CheckPendingRequests can be called at the end of capture to report requests
// that never saw a reply
func (ctx *PKTCAnalysisContext) CheckPendingRequests() []*ExpertInfo {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	var results []*ExpertInfo
	for key, req := range ctx.pending {
		details := "no AP Reply (end of capture)"
		if req.UserName != "" {
			details = fmt.Sprintf("no AP Reply for user %s (end of capture)", req.UserName)
		}
		results = append(results, &ExpertInfo{
			PacketNum: req.PacketNum,
			Timestamp: req.Timestamp,
			Severity:  PKTCUnansweredRequest.Severity(),
			Group:     PKTCUnansweredRequest.Group(),
			Protocol:  "PKTC",
			Summary:   PKTCUnansweredRequest.String(),
			Details:   details,
			FlowKey:   key,
		})
		delete(ctx.pending, key)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].PacketNum < results[j].PacketNum })
	return results
}

func newInfo(pkt *capture.PacketInfo, t PKTCExpertType, details string) *ExpertInfo {
	return &ExpertInfo{
		PacketNum: pkt.Number,
		Timestamp: pkt.Timestamp,
		Severity:  t.Severity(),
		Group:     t.Group(),
		Protocol:  "PKTC",
		Summary:   t.String(),
		Details:   details,
		FlowKey:   pkt.FlowKey(),
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/pkg/model"
	"github.com/Zerofisher/pktcanalyzer/pkg/query"
)

// query command flags
var (
	queryKMMIDs    []int
	queryIP        string
	queryPort      int
	queryUser      string
	queryMalformed bool
	querySearch    string
	queryLimit     int
	queryOffset    int
	querySort      string
	queryDesc      bool
	queryJSON      bool
	querySeverity  string
	queryGroups    []string
)

var queryCmd = &cobra.Command{
	Use:   "query <pcap>",
	Short: "Query the message index of a capture",
	Long: `List indexed PKTC messages of a capture. The index is built first when it
is missing or older than the capture.`,
	Example: `  pktcanalyzer query capture.pcap --kmmid 2 --kmmid 3
  pktcanalyzer query capture.pcap --malformed --json
  pktcanalyzer query capture.pcap --user alice --limit 20
  pktcanalyzer query flows capture.pcap
  pktcanalyzer query events capture.pcap --severity warning`,
	Args:    cobra.ExactArgs(1),
	GroupID: "analysis",
	RunE:    runQueryMessages,
}

var queryFlowsCmd = &cobra.Command{
	Use:   "flows <pcap>",
	Short: "List key management flows",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryFlows,
}

var queryEventsCmd = &cobra.Command{
	Use:   "events <pcap>",
	Short: "List stored expert events",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryEvents,
}

var querySummaryCmd = &cobra.Command{
	Use:   "summary <pcap>",
	Short: "Show index metadata, message type counts and event totals",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuerySummary,
}

func init() {
	pf := queryCmd.PersistentFlags()
	pf.IntVar(&queryLimit, "limit", 50, "Maximum rows (0 = unlimited)")
	pf.IntVar(&queryOffset, "offset", 0, "Rows to skip")
	pf.StringVar(&querySort, "sort", "", "Sort column")
	pf.BoolVar(&queryDesc, "desc", false, "Sort descending")
	pf.BoolVar(&queryJSON, "json", false, "Output JSON")
	pf.StringVar(&queryIP, "ip", "", "Source or destination IP")

	f := queryCmd.Flags()
	f.IntSliceVar(&queryKMMIDs, "kmmid", nil, "Message id (repeatable)")
	f.IntVar(&queryPort, "port", 0, "Source or destination port")
	f.StringVar(&queryUser, "user", "", "SNMPv3 user name")
	f.BoolVar(&queryMalformed, "malformed", false, "Only malformed messages")
	f.StringVar(&querySearch, "search", "", "Substring of the info column")

	queryFlowsCmd.Flags().BoolVar(&queryMalformed, "malformed", false, "Only flows with malformed messages")

	queryEventsCmd.Flags().StringVar(&querySeverity, "severity", "chat", "Minimum severity: chat, note, warning, error")
	queryEventsCmd.Flags().StringSliceVar(&queryGroups, "group", nil, "Event group (repeatable)")
	queryEventsCmd.Flags().StringVar(&querySearch, "search", "", "Substring of the event message")

	queryCmd.AddCommand(queryFlowsCmd)
	queryCmd.AddCommand(queryEventsCmd)
	queryCmd.AddCommand(querySummaryCmd)
}

// openEngine indexes pcapPath if needed and opens a read-only engine on it.
func openEngine(cmd *cobra.Command, pcapPath string) (*query.SQLiteEngine, error) {
	if err := ensureIndex(cmd.Context(), pcapPath); err != nil {
		return nil, err
	}
	return query.NewFromPcap(pcapPath)
}

func sortDirection() string {
	if queryDesc {
		return "desc"
	}
	return "asc"
}

func runQueryMessages(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd, args[0])
	if err != nil {
		return err
	}
	defer engine.Close()

	msgs, err := engine.GetMessages(cmd.Context(), query.MessageFilter{
		Offset:        queryOffset,
		Limit:         queryLimit,
		KMMIDs:        queryKMMIDs,
		IP:            queryIP,
		Port:          queryPort,
		UserName:      queryUser,
		MalformedOnly: queryMalformed,
		SearchText:    querySearch,
		SortBy:        querySort,
		SortOrder:     sortDirection(),
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if queryJSON {
		return writeJSON(w, msgs)
	}
	fmt.Fprintf(w, "%-7s %-26s %-22s %-22s %-24s %s\n", "No.", "Time", "Source", "Destination", "Type", "Info")
	for _, m := range msgs {
		ts := time.Unix(0, m.TimestampNS).UTC().Format("2006-01-02 15:04:05.000000")
		fmt.Fprintf(w, "%-7d %-26s %-22s %-22s %-24s %s\n", m.Number, ts,
			fmt.Sprintf("%s:%d", m.SrcIP, m.SrcPort), fmt.Sprintf("%s:%d", m.DstIP, m.DstPort),
			m.KMMIDName, m.Info)
	}
	fmt.Fprintf(w, "%d messages\n", len(msgs))
	return nil
}

func runQueryFlows(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd, args[0])
	if err != nil {
		return err
	}
	defer engine.Close()

	flows, err := engine.GetFlows(cmd.Context(), query.FlowFilter{
		Offset:        queryOffset,
		Limit:         queryLimit,
		IP:            queryIP,
		MalformedOnly: queryMalformed,
		SortBy:        querySort,
		SortOrder:     sortDirection(),
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if queryJSON {
		return writeJSON(w, flows)
	}
	fmt.Fprintf(w, "%-16s %-22s %-22s %8s %8s %8s %9s %10s\n",
		"Flow", "Endpoint A", "Endpoint B", "Msgs", "Req", "Rep", "Malformed", "Duration")
	for _, f := range flows {
		fmt.Fprintf(w, "%-16s %-22s %-22s %8d %8d %8d %9d %10s\n", f.ID,
			fmt.Sprintf("%s:%d", f.SrcIP, f.SrcPort), fmt.Sprintf("%s:%d", f.DstIP, f.DstPort),
			f.Messages, f.Requests, f.Replies, f.Malformed, f.Duration().Round(time.Millisecond))
	}
	return nil
}

func runQueryEvents(cmd *cobra.Command, args []string) error {
	minSeverity := model.Severity(strings.ToLower(querySeverity))
	if minSeverity == "warn" {
		minSeverity = model.SeverityWarning
	}
	if minSeverity.Order() == 0 {
		return fmt.Errorf("unknown severity %q", querySeverity)
	}

	engine, err := openEngine(cmd, args[0])
	if err != nil {
		return err
	}
	defer engine.Close()

	events, err := engine.GetExpertEvents(cmd.Context(), query.EventFilter{
		Offset:      queryOffset,
		Limit:       queryLimit,
		MinSeverity: minSeverity,
		Groups:      queryGroups,
		SearchText:  querySearch,
		SortBy:      querySort,
		SortOrder:   sortDirection(),
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if queryJSON {
		return writeJSON(w, events)
	}
	for _, e := range events {
		fmt.Fprintf(w, "#%-6d %-8s %-10s %s: %s\n", e.PacketStart, e.Severity, e.Group, e.Type, e.Message)
	}
	fmt.Fprintf(w, "%d events\n", len(events))
	return nil
}

func runQuerySummary(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd, args[0])
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	meta, err := engine.GetIndexMeta(ctx)
	if err != nil {
		return err
	}
	counts, err := engine.CountByKMMID(ctx)
	if err != nil {
		return err
	}
	events, err := engine.GetEventSummary(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if queryJSON {
		return writeJSON(w, map[string]any{"meta": meta, "kmmid": counts, "events": events})
	}
	fmt.Fprintf(w, "Capture:   %s\n", meta.PcapPath)
	fmt.Fprintf(w, "Indexed:   %s\n", meta.IndexedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Packets:   %d\n", meta.TotalPackets)
	fmt.Fprintf(w, "Messages:  %d\n", meta.TotalMessages)
	fmt.Fprintf(w, "Duration:  %s\n\n", time.Duration(meta.DurationNS).Round(time.Millisecond))

	fmt.Fprintln(w, "Messages by KMMID:")
	for _, c := range counts {
		fmt.Fprintf(w, "  0x%02x %-30s %8d (%d malformed)\n", c.KMMID, c.Name, c.Count, c.Malformed)
	}

	fmt.Fprintf(w, "\nExpert events: %d\n", events.TotalEvents)
	for _, s := range []model.Severity{model.SeverityError, model.SeverityWarning, model.SeverityNote, model.SeverityChat} {
		if n := events.BySeverity[s]; n > 0 {
			fmt.Fprintf(w, "  %-8s %d\n", s, n)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

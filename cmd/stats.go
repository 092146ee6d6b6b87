package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/expert"
	"github.com/Zerofisher/pktcanalyzer/stats"
)

// stats command flags
var (
	statsInputFile     string
	statsDisplayFilter string
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "PKTC statistics and expert analysis",
	Long:    `Analyze a capture file and display message statistics.`,
	GroupID: "analysis",
}

var statsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show message counts by type, domain and user",
	Example: `  pktcanalyzer stats summary -r capture.pcap
  pktcanalyzer stats summary -r capture.pcap -Y "pktc.doi == 2"`,
	RunE: runStatsSummary,
}

var statsEndpointsCmd = &cobra.Command{
	Use:     "endpoints",
	Short:   "Show per-endpoint message statistics",
	Long:    `Display PKTC traffic per IP:port endpoint.`,
	Example: `  pktcanalyzer stats endpoints -r capture.pcap`,
	RunE:    runStatsEndpoints,
}

// expert subcommand flags
var statsExpertSeverity string

var statsExpertCmd = &cobra.Command{
	Use:   "expert",
	Short: "Expert analysis (anomaly detection)",
	Long: `Perform expert analysis to detect anomalies and potential issues in the capture.
Detects: malformed messages, null encryption and MD5 ciphersuites,
unanswered requests, unsolicited replies, trailing data, etc.`,
	Example: `  pktcanalyzer stats expert -r capture.pcap
  pktcanalyzer stats expert -r capture.pcap --severity warning`,
	RunE: runStatsExpert,
}

func init() {
	statsCmd.PersistentFlags().StringVarP(&statsInputFile, "read", "r", "",
		"Input pcap file (required)")
	statsCmd.PersistentFlags().StringVarP(&statsDisplayFilter, "filter", "Y", "",
		"Display filter expression")
	statsCmd.MarkPersistentFlagRequired("read")

	statsExpertCmd.Flags().StringVar(&statsExpertSeverity, "severity", "note",
		"Minimum severity level: chat, note, warning, error")

	statsCmd.AddCommand(statsSummaryCmd)
	statsCmd.AddCommand(statsEndpointsCmd)
	statsCmd.AddCommand(statsExpertCmd)
}

// eachPacket runs fn for every packet of the stats input file that passes
// the display filter and returns the number of packets read.
func eachPacket(fn func(*capture.PacketInfo)) (int, error) {
	filterFunc, err := compileDisplayFilter(statsDisplayFilter)
	if err != nil {
		return 0, fmt.Errorf("error compiling display filter: %w", err)
	}

	capturer, err := capture.NewFileCapturer(statsInputFile, "")
	if err != nil {
		return 0, fmt.Errorf("error opening file: %w", err)
	}
	defer capturer.Stop()

	total := 0
	for pkt := range capturer.Start() {
		total++
		if filterFunc != nil && !filterFunc(&pkt) {
			continue
		}
		fn(&pkt)
	}
	return total, nil
}

func runStatsSummary(cmd *cobra.Command, args []string) error {
	statsMgr := stats.NewManager()
	if _, err := eachPacket(statsMgr.ProcessPacket); err != nil {
		return err
	}
	statsMgr.PrintSummary(cmd.OutOrStdout())
	return nil
}

func runStatsEndpoints(cmd *cobra.Command, args []string) error {
	statsMgr := stats.NewManager()
	if _, err := eachPacket(statsMgr.ProcessPacket); err != nil {
		return err
	}
	statsMgr.PrintEndpoints(cmd.OutOrStdout())
	return nil
}

func runStatsExpert(cmd *cobra.Command, args []string) error {
	minSeverity, err := expert.ParseSeverity(statsExpertSeverity)
	if err != nil {
		return err
	}

	analyzer := expert.NewAnalyzer()
	packetCount, err := eachPacket(func(pkt *capture.PacketInfo) {
		analyzer.Analyze(pkt)
	})
	if err != nil {
		return err
	}
	analyzer.Finish()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Analyzed %d packets\n\n", packetCount)
	analyzer.PrintSummary(w)
	fmt.Fprintln(w)
	analyzer.PrintDetails(w, minSeverity)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/internal/config"
	"github.com/Zerofisher/pktcanalyzer/pkg/ingest"
)

// index command flags
var (
	indexForce bool
	indexBPF   string
)

var indexCmd = &cobra.Command{
	Use:   "index <pcap>",
	Short: "Build a SQLite index of PKTC messages in a capture",
	Long: `Decode every packet of a capture and store message summaries, flows and
expert events in <pcap>.idx.db. An index that is already current is reused
unless --force is given.`,
	Example: `  pktcanalyzer index capture.pcap
  pktcanalyzer index capture.pcap --force --batch-size 5000`,
	Args:    cobra.ExactArgs(1),
	GroupID: "analysis",
	RunE:    runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "Re-index even if the index is current")
	indexCmd.Flags().StringVarP(&indexBPF, "bpf", "f", "", "BPF filter expression")
	indexCmd.Flags().Int("batch-size", 1000, "Messages per write transaction")
	v.BindPFlag(config.KeyIndexBatchSize, indexCmd.Flags().Lookup("batch-size"))
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := buildIndex(ctx, args[0], indexForce)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if result.Skipped {
		fmt.Fprintf(w, "Index %s is up to date\n", result.IndexPath)
		return nil
	}
	fmt.Fprintf(w, "Indexed %d packets, %d PKTC messages (%d malformed), %d flows, %d expert events in %s\n",
		result.TotalPackets, result.TotalMessages, result.Malformed, result.TotalFlows, result.TotalEvents,
		result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Index: %s\n", result.IndexPath)
	return nil
}

// buildIndex runs the ingest pipeline with the configured batch size.
func buildIndex(ctx context.Context, pcapPath string, force bool) (*ingest.Result, error) {
	batch := 0
	if cfg != nil {
		batch = cfg.Index.BatchSize
	}

	p := ingest.New(ingest.Config{
		PcapPath:  pcapPath,
		BatchSize: batch,
		BPFFilter: indexBPF,
		Force:     force,
		Logger:    logger,
		ProgressCallback: func(processed int, elapsed time.Duration) {
			logger.Info().Int("packets", processed).Dur("elapsed", elapsed).Msg("indexing")
		},
	})
	result, err := p.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", pcapPath, err)
	}
	return result, nil
}

// ensureIndex builds the index for pcapPath when it is missing or stale.
func ensureIndex(ctx context.Context, pcapPath string) error {
	stale, err := ingest.NeedsReindex(pcapPath)
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}
	logger.Info().Str("pcap", pcapPath).Msg("index missing or stale, building")
	_, err = buildIndex(ctx, pcapPath, false)
	return err
}

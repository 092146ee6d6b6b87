package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/export"
)

// capture command flags
var (
	captureBPFFilter     string
	captureDisplayFilter string
	captureCount         int
	captureVerbose       bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <interface>",
	Short: "Live PKTC capture from a network interface",
	Long: `Capture packets on a network interface and print decoded PKTC traffic
until interrupted. Requires root privileges on most systems. The BPF filter
defaults to the configured PKTC ports.`,
	Example: `  sudo pktcanalyzer capture en0
  sudo pktcanalyzer capture eth0 -Y "pktc.malformed" -V

For writing to file:
  sudo pktcanalyzer capture write en0 output.pcapng`,
	Args:    cobra.ExactArgs(1),
	GroupID: "input",
	RunE:    runCapture,
}

var captureWriteCmd = &cobra.Command{
	Use:   "write <interface> <file>",
	Short: "Write captured packets to pcapng file",
	Long:  `Capture packets from an interface and write them to a pcapng file.`,
	Example: `  sudo pktcanalyzer capture write en0 output.pcapng
  sudo pktcanalyzer capture write en0 output.pcapng -c 1000
  sudo pktcanalyzer capture write eth0 output.pcapng -Y "pktc.kmmid == 2"`,
	Args: cobra.ExactArgs(2),
	RunE: runCaptureWrite,
}

func init() {
	captureCmd.PersistentFlags().StringVarP(&captureBPFFilter, "bpf", "f", "",
		"BPF filter expression (default: udp port <configured ports>)")
	captureCmd.PersistentFlags().StringVarP(&captureDisplayFilter, "filter", "Y", "",
		"Display filter expression")
	captureCmd.PersistentFlags().IntVarP(&captureCount, "count", "c", 0,
		"Stop after n packets (0 = unlimited)")
	captureCmd.Flags().BoolVarP(&captureVerbose, "verbose", "V", false,
		"Show decode tree")

	captureCmd.AddCommand(captureWriteCmd)
}

// portFilter builds a BPF expression matching the configured PKTC ports.
func portFilter(ports []uint16) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprintf("udp port %d", p))
	}
	return strings.Join(parts, " or ")
}

// startLive opens iface and stops the capture when ctx is cancelled.
func startLive(ctx context.Context, iface string) (*capture.Capturer, error) {
	bpf := captureBPFFilter
	if bpf == "" && cfg != nil {
		bpf = portFilter(cfg.PortList())
	}

	capturer, err := capture.NewLiveCapturer(iface, bpf)
	if err != nil {
		return nil, fmt.Errorf("error starting capture: %w\nNote: Live capture requires root privileges. Try: sudo %s", err, strings.Join(os.Args, " "))
	}
	logger.Info().Str("interface", iface).Str("bpf", bpf).Msg("capture started")

	go func() {
		<-ctx.Done()
		capturer.Stop()
	}()
	return capturer, nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	filterFunc, err := compileDisplayFilter(captureDisplayFilter)
	if err != nil {
		return fmt.Errorf("error compiling display filter: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capturer, err := startLive(ctx, args[0])
	if err != nil {
		return err
	}
	defer capturer.Stop()

	exporter := export.NewExporter(cmd.OutOrStdout(), export.FormatText)
	exporter.SetMaxCount(captureCount)
	exporter.SetShowDetail(captureVerbose)
	return exportPackets(capturer.Start(), filterFunc, exporter)
}

func runCaptureWrite(cmd *cobra.Command, args []string) error {
	iface, outputFile := args[0], args[1]

	filterFunc, err := compileDisplayFilter(captureDisplayFilter)
	if err != nil {
		return fmt.Errorf("error compiling display filter: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capturer, err := startLive(ctx, iface)
	if err != nil {
		return err
	}
	defer capturer.Stop()

	writer, err := capture.NewPcapWriter(outputFile)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}

	fmt.Printf("Capturing on %s, writing to %s...\n", iface, outputFile)
	fmt.Println("Press Ctrl+C to stop.")

	for pkt := range capturer.Start() {
		if filterFunc != nil && !filterFunc(&pkt) {
			continue
		}
		if err := writer.WritePacket(&pkt); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing packet: %v\n", err)
			continue
		}

		if writer.Count()%1000 == 0 {
			fmt.Printf("\rWritten %d packets...", writer.Count())
		}
		if captureCount > 0 && writer.Count() >= captureCount {
			break
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("error closing output: %w", err)
	}
	fmt.Printf("\rWritten %d packets to %s\n", writer.Count(), writer.Filename())
	return nil
}

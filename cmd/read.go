package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/export"
	"github.com/Zerofisher/pktcanalyzer/filter"
)

// read command flags
var (
	readDisplayFilter string
	readBPFFilter     string
	readCount         int
)

var readCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Read and decode a pcap/pcapng file",
	Long: `Read packets from a pcap or pcapng file and print one line per packet.
PKTC messages on the configured ports are decoded.`,
	Example: `  pktcanalyzer read capture.pcap
  pktcanalyzer read capture.pcap -Y "pktc.kmmid == 2"

For other output modes, use subcommands:
  pktcanalyzer read text capture.pcap -c 10 -V
  pktcanalyzer read json capture.pcap
  pktcanalyzer read fields capture.pcap -e frame.number -e pktc.snmp.user_name.data`,
	Args:    cobra.ExactArgs(1),
	GroupID: "input",
	RunE:    runReadText,
}

// text subcommand flags
var (
	readTextVerbose bool
	readTextHex     bool
)

var readTextCmd = &cobra.Command{
	Use:   "text <file>",
	Short: "Output packets as text",
	Long:  `Output packets in human-readable text format to stdout.`,
	Example: `  pktcanalyzer read text capture.pcap
  pktcanalyzer read text capture.pcap -c 10
  pktcanalyzer read text capture.pcap -V -x`,
	Args: cobra.ExactArgs(1),
	RunE: runReadText,
}

var readJSONCmd = &cobra.Command{
	Use:   "json <file>",
	Short: "Output packets as JSON",
	Long:  `Output packets as a JSON array, each PKTC message with its decode tree.`,
	Example: `  pktcanalyzer read json capture.pcap
  pktcanalyzer read json capture.pcap -c 10`,
	Args: cobra.ExactArgs(1),
	RunE: runReadJSON,
}

// fields subcommand flags
var (
	readFieldsExtract []string
	readFieldsHeader  bool
)

var readFieldsCmd = &cobra.Command{
	Use:   "fields <file>",
	Short: "Extract specific fields from packets",
	Long:  `Extract and output specific fields from packets, tab separated.`,
	Example: `  pktcanalyzer read fields capture.pcap -e ip.src -e pktc.kmmid
  pktcanalyzer read fields capture.pcap -e frame.number -e pktc.ciphersuite.enc_transform -c 100`,
	Args: cobra.ExactArgs(1),
	RunE: runReadFields,
}

var readWriteCmd = &cobra.Command{
	Use:   "write <file> <outfile>",
	Short: "Save packets matching the display filter to a pcapng file",
	Example: `  pktcanalyzer read write capture.pcap malformed.pcapng -Y "pktc.malformed"
  pktcanalyzer read write capture.pcap replies.pcapng -Y "pktc.kmmid == 3" -c 100`,
	Args: cobra.ExactArgs(2),
	RunE: runReadWrite,
}

func init() {
	// Persistent flags for read command (inherited by subcommands)
	readCmd.PersistentFlags().StringVarP(&readDisplayFilter, "filter", "Y", "",
		"Display filter expression (Wireshark-like)")
	readCmd.PersistentFlags().StringVarP(&readBPFFilter, "bpf", "f", "",
		"BPF filter expression (capture filter)")
	readCmd.PersistentFlags().IntVarP(&readCount, "count", "c", 0,
		"Stop after n packets (0 = unlimited)")

	readCmd.Flags().BoolVarP(&readTextVerbose, "verbose", "V", false, "Show decode tree")
	readCmd.Flags().BoolVarP(&readTextHex, "hex", "x", false, "Show hex dump")
	readTextCmd.Flags().BoolVarP(&readTextVerbose, "verbose", "V", false, "Show decode tree")
	readTextCmd.Flags().BoolVarP(&readTextHex, "hex", "x", false, "Show hex dump")

	readFieldsCmd.Flags().StringArrayVarP(&readFieldsExtract, "field", "e", nil,
		"Field to extract (can be specified multiple times)")
	readFieldsCmd.Flags().BoolVarP(&readFieldsHeader, "header", "E", false,
		"Print a header row with the field names")

	readCmd.AddCommand(readTextCmd)
	readCmd.AddCommand(readJSONCmd)
	readCmd.AddCommand(readFieldsCmd)
	readCmd.AddCommand(readWriteCmd)
}

// compileDisplayFilter compiles a display filter if specified
func compileDisplayFilter(filterStr string) (filter.Filter, error) {
	if filterStr == "" {
		return nil, nil
	}
	return filter.Compile(filterStr)
}

func runReadText(cmd *cobra.Command, args []string) error {
	exporter := export.NewExporter(cmd.OutOrStdout(), export.FormatText)
	exporter.SetShowDetail(readTextVerbose)
	exporter.SetShowHex(readTextHex)
	return readExport(args[0], exporter)
}

func runReadJSON(cmd *cobra.Command, args []string) error {
	return readExport(args[0], export.NewExporter(cmd.OutOrStdout(), export.FormatJSON))
}

func runReadFields(cmd *cobra.Command, args []string) error {
	if len(readFieldsExtract) == 0 {
		return fmt.Errorf("at least one field must be specified with -e")
	}
	exporter := export.NewExporter(cmd.OutOrStdout(), export.FormatFields)
	exporter.SetFields(readFieldsExtract)
	exporter.SetShowHeader(readFieldsHeader)
	return readExport(args[0], exporter)
}

func readExport(file string, exporter *export.Exporter) error {
	filterFunc, err := compileDisplayFilter(readDisplayFilter)
	if err != nil {
		return fmt.Errorf("error compiling display filter: %w", err)
	}

	capturer, err := capture.NewFileCapturer(file, readBPFFilter)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer capturer.Stop()

	exporter.SetMaxCount(readCount)
	return exportPackets(capturer.Start(), filterFunc, exporter)
}

// exportPackets drains packets through the display filter into exporter
// until the channel closes or the count limit is reached.
func exportPackets(packets <-chan capture.PacketInfo, filterFunc filter.Filter, exporter *export.Exporter) error {
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("error starting export: %w", err)
	}

	for pkt := range packets {
		if filterFunc != nil && !filterFunc(&pkt) {
			continue
		}
		if err := exporter.ExportPacket(&pkt); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting packet: %v\n", err)
		}
		if exporter.ShouldStop() {
			break
		}
	}

	if err := exporter.Finish(); err != nil {
		return fmt.Errorf("error finishing export: %w", err)
	}
	logger.Debug().Int("exported", exporter.Count()).Msg("export finished")
	return nil
}

func runReadWrite(cmd *cobra.Command, args []string) error {
	filterFunc, err := compileDisplayFilter(readDisplayFilter)
	if err != nil {
		return fmt.Errorf("error compiling display filter: %w", err)
	}

	packets, err := capture.ReadFile(args[0], readBPFFilter)
	if err != nil {
		return err
	}

	kept := packets[:0]
	for i := range packets {
		if filterFunc != nil && !filterFunc(&packets[i]) {
			continue
		}
		kept = append(kept, packets[i])
		if readCount > 0 && len(kept) >= readCount {
			break
		}
	}

	n, err := capture.SavePackets(args[1], kept)
	if err != nil {
		return fmt.Errorf("error writing %s: %w", args[1], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Written %d of %d packets to %s\n", n, len(packets), args[1])
	return nil
}

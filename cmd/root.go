// Package cmd provides the CLI commands for pktcanalyzer using Cobra.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/internal/config"
	"github.com/Zerofisher/pktcanalyzer/internal/logging"
	"github.com/Zerofisher/pktcanalyzer/kerberos"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config
	logger  = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "pktcanalyzer",
	Short: "PacketCable key management (PKTC) message analyzer",
	Long: `pktcanalyzer decodes PacketCable security key management messages
(UDP port 1293) from raw bytes, pcap/pcapng files and live interfaces.

  - Field-level decode tree with byte offsets for every field
  - Wireshark-like display filters over PKTC fields
  - Expert analysis of weak ciphersuites and unanswered requests
  - SQLite index of large captures for fast repeated queries
  - Crafting of AP Request/Reply messages for test fixtures

Examples:
  pktcanalyzer decode 020210...                        # Decode one message
  pktcanalyzer read capture.pcap -c 10                 # Print first 10 packets
  pktcanalyzer read json capture.pcap -Y "pktc.kmmid == 3"
  pktcanalyzer stats expert -r capture.pcap            # Expert analysis
  pktcanalyzer index capture.pcap && pktcanalyzer query capture.pcap --malformed
  pktcanalyzer craft request --user alice -w out.pcapng`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "input", Title: "Input Commands:"},
		&cobra.Group{ID: "analysis", Title: "Analysis Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pktcanalyzer.yaml)")
	flags.IntSlice("port", []int{pktc.DefaultPort}, "UDP ports decoded as PKTC (repeatable)")
	flags.Bool("strict-kerberos", false, "Reject auth blobs that are not AP-REQ, AP-REP or KRB-ERROR")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.Bool("log-console", true, "Human-readable logs instead of JSON lines")

	v.BindPFlag(config.KeyPorts, flags.Lookup("port"))
	v.BindPFlag(config.KeyKerberosStrict, flags.Lookup("strict-kerberos"))
	v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	v.BindPFlag(config.KeyLogConsole, flags.Lookup("log-console"))

	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(craftCmd)
	rootCmd.AddCommand(listCmd)
}

// setup resolves configuration, installs the logger and applies decoder
// settings before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	logger, err = logging.Init("pktcanalyzer", logging.Options{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
	})
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("using config file")
	}

	for _, port := range cfg.PortList() {
		capture.RegisterPort(port)
	}
	capture.SetAuthDecoder(authDecoder())
	return nil
}

// authDecoder returns the embedded Kerberos decoder honoring kerberos.strict.
func authDecoder() pktc.AuthDecoder {
	strict := cfg != nil && cfg.Kerberos.Strict
	return kerberos.Decoder{Strict: strict}
}

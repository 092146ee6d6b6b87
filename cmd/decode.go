package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/export"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

var (
	decodeFile   string
	decodeOffset int
	decodeJSON   bool
	decodeHex    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a single raw PKTC message",
	Long: `Decode one PKTC message given as a hex string or read from a binary file
and print its field tree with byte offsets.`,
	Example: `  pktcanalyzer decode 0202100a0b0c...
  pktcanalyzer decode -f message.bin --offset 42
  pktcanalyzer decode -f message.bin --json`,
	Args:    cobra.MaximumNArgs(1),
	GroupID: "analysis",
	RunE:    runDecode,
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "", "Read the raw message from a binary file")
	decodeCmd.Flags().IntVar(&decodeOffset, "offset", 0, "Byte offset where the message starts")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print the decode tree as JSON")
	decodeCmd.Flags().BoolVarP(&decodeHex, "hex", "x", false, "Append a hex dump of the input")
}

func runDecode(cmd *cobra.Command, args []string) error {
	buf, err := decodeInput(args)
	if err != nil {
		return err
	}
	if decodeOffset < 0 || decodeOffset > len(buf) {
		return fmt.Errorf("offset %d outside input of %d bytes", decodeOffset, len(buf))
	}
	return writeDecode(cmd.OutOrStdout(), buf, decodeOffset, decodeJSON, decodeHex)
}

// decodeInput returns the message bytes from a file or a hex argument.
func decodeInput(args []string) ([]byte, error) {
	switch {
	case decodeFile != "" && len(args) > 0:
		return nil, fmt.Errorf("give either a hex argument or --file, not both")
	case decodeFile != "":
		return os.ReadFile(decodeFile)
	case len(args) == 1:
		return parseHex(args[0])
	default:
		return nil, fmt.Errorf("a hex argument or --file is required")
	}
}

// parseHex accepts plain, colon or space separated hex.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(":", "", " ", "", "\n", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return b, nil
}

// writeDecode decodes buf at start and prints the result. A malformed
// message still prints its header when one was read.
func writeDecode(w io.Writer, buf []byte, start int, asJSON, withHex bool) error {
	msg, decodeErr := pktc.NewDecoder(authDecoder()).Decode(buf, start)

	hdr, hdrErr := pktc.ParseHeader(buf, start)
	if msg != nil {
		hdr = msg.Header
	}

	if asJSON {
		var out any
		if hdrErr == nil {
			out = export.NewPKTCJSON(hdr, msg, decodeErr)
		} else {
			out = map[string]string{"error": hdrErr.Error()}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if msg != nil {
		if err := export.WriteTree(w, msg.Tree(), 0); err != nil {
			return err
		}
		if trailing := len(buf) - msg.End(); trailing > 0 {
			fmt.Fprintf(w, "Trailing data: %d bytes\n", trailing)
		}
	} else if hdrErr == nil {
		fmt.Fprintf(w, "PacketCable %s (%s), version %s\n", hdr.Type.Value, hdr.DOI.Value, hdr.Version())
	}
	if decodeErr != nil {
		fmt.Fprintf(w, "Malformed: %v\n", decodeErr)
	}
	if withHex {
		fmt.Fprintln(w)
		if err := export.HexDump(w, buf[start:]); err != nil {
			return err
		}
	}
	return nil
}

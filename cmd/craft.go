package cmd

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// craftOptions holds the message values set from flags.
type craftOptions struct {
	KMMID       int
	DOI         int
	Version     string
	AuthBlob    string // hex
	Nonce       uint32
	EngineID    string // hex
	Boots       uint32
	Time        uint32
	User        string
	Suites      []string // auth:transform
	Lifetime    uint32
	Grace       uint32
	Reestablish bool
	Ack         bool
	MAC         string // hex

	Output string
	Src    string
	Dst    string
}

// defaultAuthBlob is an empty AP-REQ element.
const defaultAuthBlob = "6e023000"

var craftOpts craftOptions

var craftCmd = &cobra.Command{
	Use:   "craft",
	Short: "Encode PKTC messages for test fixtures",
	Long: `Build a PKTC message from flag values and print it as hex, or wrap it in
an Ethernet/IPv4/UDP frame and write it to a pcapng file with -w.`,
	GroupID: "input",
}

var craftRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Encode an AP Request",
	Example: `  pktcanalyzer craft request --user alice --suite 0x22:0x21
  pktcanalyzer craft request --engine-id 80001f8803 -w request.pcapng`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCraft(cmd, pktc.KMMIDAPRequest)
	},
}

var craftReplyCmd = &cobra.Command{
	Use:     "reply",
	Short:   "Encode an AP Reply",
	Example: `  pktcanalyzer craft reply --user alice --lifetime 3600 --ack`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCraft(cmd, pktc.KMMIDAPReply)
	},
}

var craftHeaderCmd = &cobra.Command{
	Use:     "header",
	Short:   "Encode a header-only message such as Rekey or Wake Up",
	Example: `  pktcanalyzer craft header --kmmid 5`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if craftOpts.KMMID < 0 || craftOpts.KMMID > 0xff {
			return fmt.Errorf("--kmmid %d does not fit in one byte", craftOpts.KMMID)
		}
		return runCraft(cmd, pktc.KMMID(craftOpts.KMMID))
	},
}

func init() {
	pf := craftCmd.PersistentFlags()
	pf.IntVar(&craftOpts.DOI, "doi", int(pktc.DOISNMPv3), "Domain of interpretation")
	pf.StringVar(&craftOpts.Version, "version", "1.0", "Protocol version major.minor")
	pf.StringVarP(&craftOpts.Output, "write", "w", "", "Write a pcapng file instead of printing hex")
	pf.StringVar(&craftOpts.Src, "src", "", "Source IP of the written frame")
	pf.StringVar(&craftOpts.Dst, "dst", "", "Destination IP of the written frame")

	for _, c := range []*cobra.Command{craftRequestCmd, craftReplyCmd} {
		f := c.Flags()
		f.StringVar(&craftOpts.AuthBlob, "auth-blob", defaultAuthBlob, "Kerberos AP-REQ/AP-REP DER element, hex")
		f.StringVar(&craftOpts.EngineID, "engine-id", "", "SNMPv3 engine id, hex")
		f.Uint32Var(&craftOpts.Boots, "boots", 0, "SNMPv3 engine boots")
		f.Uint32Var(&craftOpts.Time, "time", 0, "SNMPv3 engine time")
		f.StringVar(&craftOpts.User, "user", "", "SNMPv3 user name")
		f.StringSliceVar(&craftOpts.Suites, "suite", []string{"0x22:0x21"}, "Ciphersuite auth:transform (repeatable)")
		f.BoolVar(&craftOpts.Reestablish, "reestablish", false, "Set the re-establish flag")
		f.StringVar(&craftOpts.MAC, "mac", "", "HMAC-SHA1 value, hex (default zeros)")
	}
	craftRequestCmd.Flags().Uint32Var(&craftOpts.Nonce, "nonce", 0, "Server nonce")
	craftReplyCmd.Flags().Uint32Var(&craftOpts.Lifetime, "lifetime", 3600, "Security parameter lifetime in seconds")
	craftReplyCmd.Flags().Uint32Var(&craftOpts.Grace, "grace", 60, "Grace period in seconds")
	craftReplyCmd.Flags().BoolVar(&craftOpts.Ack, "ack", false, "Set the ACK required flag")
	craftHeaderCmd.Flags().IntVar(&craftOpts.KMMID, "kmmid", int(pktc.KMMIDRekey), "Message id")

	craftCmd.AddCommand(craftRequestCmd)
	craftCmd.AddCommand(craftReplyCmd)
	craftCmd.AddCommand(craftHeaderCmd)
}

func runCraft(cmd *cobra.Command, kmmid pktc.KMMID) error {
	msg, err := craftMessage(kmmid, craftOpts)
	if err != nil {
		return err
	}
	data, err := pktc.Encode(msg)
	if err != nil {
		return err
	}

	if craftOpts.Output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return nil
	}

	frame, err := craftFrameOptions(kmmid, craftOpts)
	if err != nil {
		return err
	}
	w, err := capture.NewPcapWriter(craftOpts.Output)
	if err != nil {
		return err
	}
	if err := w.WriteMessage(time.Now(), data, frame); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	logger.Info().Str("file", w.Filename()).Int("bytes", len(data)).Stringer("kmmid", kmmid).Msg("message written")
	return nil
}

// craftMessage builds a message of the given type from opts. Types other
// than AP Request and AP Reply are header only.
func craftMessage(kmmid pktc.KMMID, opts craftOptions) (*pktc.Message, error) {
	if opts.DOI < 0 || opts.DOI > 0xff {
		return nil, fmt.Errorf("--doi %d does not fit in one byte", opts.DOI)
	}
	var major, minor uint8
	if _, err := fmt.Sscanf(opts.Version, "%d.%d", &major, &minor); err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", opts.Version, err)
	}

	msg := &pktc.Message{Header: pktc.Header{
		Type:         pktc.Field[pktc.KMMID]{Value: kmmid},
		DOI:          pktc.Field[pktc.DOI]{Value: pktc.DOI(opts.DOI)},
		VersionMajor: pktc.Field[uint8]{Value: major},
		VersionMinor: pktc.Field[uint8]{Value: minor},
	}}
	if kmmid != pktc.KMMIDAPRequest && kmmid != pktc.KMMIDAPReply {
		return msg, nil
	}

	blob, err := hexFlag("auth-blob", opts.AuthBlob)
	if err != nil {
		return nil, err
	}
	engineID, err := hexFlag("engine-id", opts.EngineID)
	if err != nil {
		return nil, err
	}
	mac, err := hexFlag("mac", opts.MAC)
	if err != nil {
		return nil, err
	}
	if mac == nil {
		mac = make([]byte, pktc.MACSize)
	}
	suites, err := parseSuites(opts.Suites)
	if err != nil {
		return nil, err
	}

	appData := &pktc.AppData{
		EngineID: pktc.Field[[]byte]{Value: engineID},
		Boots:    pktc.Field[uint32]{Value: opts.Boots},
		Time:     pktc.Field[uint32]{Value: opts.Time},
		UserName: pktc.Field[string]{Value: opts.User},
	}
	reestablish := boolFlag(opts.Reestablish)

	if kmmid == pktc.KMMIDAPRequest {
		msg.Body = &pktc.APRequest{
			AuthBlob:     pktc.Field[[]byte]{Value: blob},
			ServerNonce:  pktc.Field[uint32]{Value: opts.Nonce},
			AppData:      appData,
			Ciphersuites: suites,
			Reestablish:  pktc.Field[uint8]{Value: reestablish},
			MAC:          pktc.Field[[]byte]{Value: mac},
		}
		return msg, nil
	}
	msg.Body = &pktc.APReply{
		AuthBlob:     pktc.Field[[]byte]{Value: blob},
		AppData:      appData,
		Ciphersuites: suites,
		Lifetime:     pktc.Field[uint32]{Value: opts.Lifetime},
		GracePeriod:  pktc.Field[uint32]{Value: opts.Grace},
		Reestablish:  pktc.Field[uint8]{Value: reestablish},
		AckRequired:  pktc.Field[uint8]{Value: boolFlag(opts.Ack)},
		MAC:          pktc.Field[[]byte]{Value: mac},
	}
	return msg, nil
}

// parseSuites reads "auth:transform" pairs in decimal or 0x hex.
func parseSuites(specs []string) (*pktc.CiphersuiteList, error) {
	list := &pktc.CiphersuiteList{}
	for _, s := range specs {
		auth, transform, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("invalid ciphersuite %q, want auth:transform", s)
		}
		a, err := strconv.ParseUint(strings.TrimSpace(auth), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid ciphersuite %q: %w", s, err)
		}
		t, err := strconv.ParseUint(strings.TrimSpace(transform), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid ciphersuite %q: %w", s, err)
		}
		list.Suites = append(list.Suites, pktc.Ciphersuite{
			Auth:      pktc.Field[pktc.AuthAlgorithm]{Value: pktc.AuthAlgorithm(a)},
			Transform: pktc.Field[pktc.EncryptionTransform]{Value: pktc.EncryptionTransform(t)},
		})
	}
	return list, nil
}

// craftFrameOptions addresses requests MTA to CMS and everything else the
// other way, with --src and --dst overriding the addresses.
func craftFrameOptions(kmmid pktc.KMMID, opts craftOptions) (capture.FrameOptions, error) {
	frame := capture.DefaultFrameOptions()
	if kmmid != pktc.KMMIDAPRequest {
		frame = frame.Reverse()
	}
	for _, a := range []struct {
		flag, value string
		ep          *capture.Endpoint
	}{{"src", opts.Src, &frame.Src}, {"dst", opts.Dst, &frame.Dst}} {
		if a.value == "" {
			continue
		}
		ip := net.ParseIP(a.value).To4()
		if ip == nil {
			return frame, fmt.Errorf("--%s %q is not an IPv4 address", a.flag, a.value)
		}
		a.ep.IP = ip
	}
	return frame, nil
}

func hexFlag(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	b, err := parseHex(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return b, nil
}

func boolFlag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Package filter provides display filter functionality using expr-lang/expr
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// PacketEnv is the environment for expression evaluation
// It maps Wireshark-like field names to packet data
type PacketEnv struct {
	// Frame fields
	Frame struct {
		Number    int     `expr:"number"`
		Len       int     `expr:"len"`
		TimeEpoch float64 `expr:"time_epoch"`
		Protocols string  `expr:"protocols"`
		Protocol  string  `expr:"protocol"`
	} `expr:"frame"`

	// Ethernet fields
	Eth struct {
		Src string `expr:"src"`
		Dst string `expr:"dst"`
	} `expr:"eth"`

	// IP fields
	IP struct {
		Src string `expr:"src"`
		Dst string `expr:"dst"`
	} `expr:"ip"`

	// UDP fields
	UDP struct {
		SrcPort uint16 `expr:"srcport"`
		DstPort uint16 `expr:"dstport"`
		Length  int    `expr:"length"`
	} `expr:"udp"`

	PKTC PKTCEnv `expr:"pktc"`

	// Protocol flags (for simple protocol filtering like "udp", "pktc")
	IsUDP  bool `expr:"is_udp"`
	IsPKTC bool `expr:"is_pktc"`
}

// PKTCEnv exposes the message fields. Body fields are zero for malformed
// messages; header fields are filled whenever the header decoded.
type PKTCEnv struct {
	KMMID   int    `expr:"kmmid"`
	Type    string `expr:"type"`
	DOI     int    `expr:"doi"`
	Version struct {
		Major int `expr:"major"`
		Minor int `expr:"minor"`
	} `expr:"version"`
	ServerNonce uint32 `expr:"server_nonce"`
	AuthBlobLen int    `expr:"auth_blob_len"`
	SNMP        struct {
		EngineID struct {
			Len  int    `expr:"len"`
			Data string `expr:"data"` // hex
		} `expr:"engine_id"`
		EngineBoots uint32 `expr:"engine_boots"`
		EngineTime  uint32 `expr:"engine_time"`
		UserName    struct {
			Len  int    `expr:"len"`
			Data string `expr:"data"`
		} `expr:"user_name"`
	} `expr:"snmp"`
	Ciphersuites struct {
		Count int `expr:"count"`
	} `expr:"ciphersuites"`
	Ciphersuite struct {
		AuthAlg      []int `expr:"auth_alg"`
		EncTransform []int `expr:"enc_transform"`
	} `expr:"ciphersuite"`
	SecParamLifetime uint32 `expr:"sec_param_lifetime"`
	GracePeriod      uint32 `expr:"grace_period"`
	ReestablishFlag  int    `expr:"reestablish_flag"`
	AckRequiredFlag  int    `expr:"ack_required_flag"`
	Malformed        bool   `expr:"malformed"`
	Error            string `expr:"error"`
	Trailing         int    `expr:"trailing"`
}

// Filter is a compiled display filter.
type Filter func(*capture.PacketInfo) bool

// Compile compiles a display filter expression
func Compile(filterStr string) (Filter, error) {
	processed := preprocessFilter(filterStr)

	program, err := expr.Compile(processed, expr.Env(PacketEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}

	return func(pkt *capture.PacketInfo) bool {
		return run(program, pkt)
	}, nil
}

func run(program *vm.Program, pkt *capture.PacketInfo) bool {
	result, err := expr.Run(program, packetToEnv(pkt))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

var (
	// "udp.port == 1293" matches either direction
	portRe = regexp.MustCompile(`\budp\.port\s*(==|!=)\s*([0-9]+)`)
	// "ip.addr == 10.0.0.1" matches either direction
	addrRe = regexp.MustCompile(`\bip\.addr\s*(==|!=)\s*("[^"]*"|[0-9][0-9.]*)`)
)

// preprocessFilter converts Wireshark-style filter syntax to expr syntax
func preprocessFilter(filter string) string {
	filter = portRe.ReplaceAllStringFunc(filter, func(m string) string {
		sub := portRe.FindStringSubmatch(m)
		return eitherDirection("udp.srcport", "udp.dstport", sub[1], sub[2])
	})
	filter = addrRe.ReplaceAllStringFunc(filter, func(m string) string {
		sub := addrRe.FindStringSubmatch(m)
		value := sub[2]
		if !strings.HasPrefix(value, `"`) {
			value = `"` + value + `"`
		}
		return eitherDirection("ip.src", "ip.dst", sub[1], value)
	})

	// Replace standalone protocol names (not part of field names like udp.port)
	protocolMap := map[string]string{
		"udp":  "is_udp",
		"pktc": "is_pktc",
	}
	words := tokenizeFilter(filter)
	for i, word := range words {
		replacement, ok := protocolMap[strings.ToLower(word)]
		if !ok {
			continue
		}
		if (i+1 >= len(words) || words[i+1] != ".") && (i == 0 || words[i-1] != ".") {
			words[i] = replacement
		}
	}
	filter = strings.Join(words, "")

	// Handle "in {x, y, z}" syntax - convert to "in [x, y, z]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")

	return filter
}

// eitherDirection expands a comparison against a src/dst pair. == matches
// either side, != requires both.
func eitherDirection(src, dst, op, value string) string {
	join := "or"
	if op == "!=" {
		join = "and"
	}
	return fmt.Sprintf("(%s %s %s %s %s %s %s)", src, op, value, join, dst, op, value)
}

// tokenizeFilter breaks a filter string into tokens while preserving structure
func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder
	inString := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, ch := range filter {
		if inString {
			current.WriteRune(ch)
			if ch == '"' {
				inString = false
				flush()
			}
			continue
		}
		switch ch {
		case '"':
			flush()
			inString = true
			current.WriteRune(ch)
		case ' ', '\t', '\n', '.', '(', ')', '[', ']', '{', '}', ',', '!', '=', '>', '<', '&', '|':
			flush()
			tokens = append(tokens, string(ch))
		default:
			current.WriteRune(ch)
		}
	}
	flush()

	return tokens
}

// packetToEnv converts a PacketInfo to a PacketEnv for expression evaluation
func packetToEnv(pkt *capture.PacketInfo) PacketEnv {
	env := PacketEnv{}

	env.Frame.Number = pkt.Number
	env.Frame.Len = pkt.Length
	env.Frame.TimeEpoch = float64(pkt.Timestamp.UnixNano()) / 1e9
	env.Frame.Protocol = pkt.Protocol

	var protocols []string
	for _, layer := range pkt.Layers {
		protocols = append(protocols, strings.ToLower(strings.ReplaceAll(layer.Name, " ", "_")))
	}
	env.Frame.Protocols = strings.Join(protocols, ":")

	env.Eth.Src = pkt.SrcMAC
	env.Eth.Dst = pkt.DstMAC
	env.IP.Src = pkt.SrcIP
	env.IP.Dst = pkt.DstIP

	if pkt.SrcPort != 0 || pkt.DstPort != 0 {
		env.IsUDP = true
		env.UDP.SrcPort = pkt.SrcPort
		env.UDP.DstPort = pkt.DstPort
		env.UDP.Length = len(pkt.Payload)
	}

	if pkt.IsPKTC() {
		env.IsPKTC = true
		fillPKTC(&env.PKTC, pkt)
	}

	return env
}

func fillPKTC(env *PKTCEnv, pkt *capture.PacketInfo) {
	env.Malformed = pkt.Malformed()
	if pkt.DecodeErr != nil {
		env.Error = pkt.DecodeErr.Error()
	}
	env.Trailing = pkt.Trailing

	if h := pkt.Header; h != nil {
		env.KMMID = int(h.Type.Value)
		env.Type = h.Type.Value.String()
		env.DOI = int(h.DOI.Value)
		env.Version.Major = int(h.VersionMajor.Value)
		env.Version.Minor = int(h.VersionMinor.Value)
	}

	msg := pkt.PKTC
	if msg == nil {
		return
	}

	if ad := msg.AppData(); ad != nil {
		env.SNMP.EngineID.Len = int(ad.EngineIDLen.Value)
		env.SNMP.EngineID.Data = fmt.Sprintf("%x", ad.EngineID.Value)
		env.SNMP.EngineBoots = ad.Boots.Value
		env.SNMP.EngineTime = ad.Time.Value
		env.SNMP.UserName.Len = int(ad.UserNameLen.Value)
		env.SNMP.UserName.Data = ad.UserName.Value
	}
	if cs := msg.Ciphersuites(); cs != nil {
		env.Ciphersuites.Count = int(cs.Count.Value)
		for _, s := range cs.Suites {
			env.Ciphersuite.AuthAlg = append(env.Ciphersuite.AuthAlg, int(s.Auth.Value))
			env.Ciphersuite.EncTransform = append(env.Ciphersuite.EncTransform, int(s.Transform.Value))
		}
	}

	switch b := msg.Body.(type) {
	case *pktc.APRequest:
		env.AuthBlobLen = b.AuthBlob.Length
		env.ServerNonce = b.ServerNonce.Value
		env.ReestablishFlag = int(b.Reestablish.Value)
	case *pktc.APReply:
		env.AuthBlobLen = b.AuthBlob.Length
		env.SecParamLifetime = b.Lifetime.Value
		env.GracePeriod = b.GracePeriod.Value
		env.ReestablishFlag = int(b.Reestablish.Value)
		env.AckRequiredFlag = int(b.AckRequired.Value)
	}
}

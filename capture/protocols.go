package capture

import (
	"fmt"

	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// Port names seen around PacketCable provisioning and key management
var portNames = map[uint16]string{
	53:   "domain",
	67:   "bootps",
	68:   "bootpc",
	69:   "tftp",
	88:   "kerberos",
	123:  "ntp",
	161:  "snmp",
	162:  "snmptrap",
	514:  "syslog",
	1812: "radius",
	1813: "radius-acct",
	2427: "mgcp-gateway",
	2727: "mgcp-callagent",
	5060: "sip",
}

// GetPortName returns a human-readable port name
func GetPortName(port uint16) string {
	if port == pktc.DefaultPort || IsPKTCPort(port) {
		return "pktc"
	}
	if name, ok := portNames[port]; ok {
		return name
	}
	return ""
}

// FormatPort returns port with optional name
func FormatPort(port uint16) string {
	if name := GetPortName(port); name != "" {
		return fmt.Sprintf("%d(%s)", port, name)
	}
	return fmt.Sprintf("%d", port)
}

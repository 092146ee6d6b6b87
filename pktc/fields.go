package pktc

import "sort"

// Field abbreviations
const (
	FieldProtocol             = "pktc"
	FieldKMMID                = "pktc.kmmid"
	FieldDOI                  = "pktc.doi"
	FieldVersionMajor         = "pktc.version.major"
	FieldVersionMinor         = "pktc.version.minor"
	FieldAuthBlob             = "pktc.auth_blob"
	FieldServerNonce          = "pktc.server_nonce"
	FieldAppData              = "pktc.app_spec_data"
	FieldEngineIDLen          = "pktc.snmp.engine_id.len"
	FieldEngineID             = "pktc.snmp.engine_id.data"
	FieldEngineBoots          = "pktc.snmp.engine_boots"
	FieldEngineTime           = "pktc.snmp.engine_time"
	FieldUserNameLen          = "pktc.snmp.user_name.len"
	FieldUserName             = "pktc.snmp.user_name.data"
	FieldCiphersuites         = "pktc.ciphersuites"
	FieldCiphersuiteCount     = "pktc.ciphersuites.count"
	FieldCiphersuite          = "pktc.ciphersuite"
	FieldCiphersuiteAuth      = "pktc.ciphersuite.auth_alg"
	FieldCiphersuiteTransform = "pktc.ciphersuite.enc_transform"
	FieldReestablish          = "pktc.reestablish_flag"
	FieldAckRequired          = "pktc.ack_required_flag"
	FieldMAC                  = "pktc.sha1_mac"
	FieldLifetime             = "pktc.sec_param_lifetime"
	FieldGracePeriod          = "pktc.grace_period"
)

// FieldKind is the value type of a field.
type FieldKind int

const (
	KindNone FieldKind = iota // subtree only
	KindUint8
	KindUint32
	KindBytes
	KindString
)

func (k FieldKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUint8:
		return "uint8"
	case KindUint32:
		return "uint32"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Base is the preferred display base of an integer field.
type Base int

const (
	BaseNone Base = iota
	BaseDec
	BaseHex
)

// FieldInfo describes a field for display.
type FieldInfo struct {
	Abbrev      string
	Name        string
	Kind        FieldKind
	Base        Base
	Values      map[uint64]string
	Description string
}

// ValueName returns the symbolic name of v, if the field has one.
func (f *FieldInfo) ValueName(v uint64) (string, bool) {
	if f.Values == nil {
		return "", false
	}
	name, ok := f.Values[v]
	return name, ok
}

var fieldTable = buildFieldTable()

func buildFieldTable() map[string]*FieldInfo {
	kmmids := make(map[uint64]string)
	for k, name := range kmmidNames {
		kmmids[uint64(k)] = name
	}
	dois := make(map[uint64]string)
	for d, name := range doiNames {
		dois[uint64(d)] = name
	}

	infos := []*FieldInfo{
		{FieldProtocol, "PacketCable", KindNone, BaseNone, nil, "PacketCable key management message"},
		{FieldKMMID, "Key Management Message ID", KindUint8, BaseHex, kmmids, "Key Management Message ID"},
		{FieldDOI, "Domain of Interpretation", KindUint8, BaseDec, dois, "Domain of Interpretation"},
		{FieldVersionMajor, "Major version", KindUint8, BaseDec, nil, "Major version of PKTC"},
		{FieldVersionMinor, "Minor version", KindUint8, BaseDec, nil, "Minor version of PKTC"},
		{FieldAuthBlob, "Kerberos AP Message", KindBytes, BaseNone, nil, "Embedded Kerberos AP-REQ or AP-REP"},
		{FieldServerNonce, "Server Nonce", KindUint32, BaseHex, nil, "Server Nonce random number"},
		{FieldAppData, "Application Specific data", KindNone, BaseNone, nil, "KMMID/DOI application specific data"},
		{FieldEngineIDLen, "Engine ID Length", KindUint8, BaseDec, nil, "Length of SNMP Engine ID"},
		{FieldEngineID, "Engine ID", KindBytes, BaseHex, nil, "SNMP Engine ID"},
		{FieldEngineBoots, "Engine ID Boots", KindUint32, BaseHex, nil, "SNMP Engine ID Boots"},
		{FieldEngineTime, "Engine ID Time", KindUint32, BaseHex, nil, "SNMP Engine ID Time"},
		{FieldUserNameLen, "usmUserName Length", KindUint8, BaseDec, nil, "Length of usmUserName"},
		{FieldUserName, "usmUserName", KindString, BaseNone, nil, "usmUserName"},
		{FieldCiphersuites, "List of Ciphersuites", KindNone, BaseNone, nil, "List of Ciphersuites"},
		{FieldCiphersuiteCount, "Number of Ciphersuites", KindUint8, BaseDec, nil, "Number of Ciphersuites"},
		{FieldCiphersuite, "Ciphersuite", KindNone, BaseNone, nil, "Authentication and encryption pair"},
		{FieldCiphersuiteAuth, "snmpAuthentication Algorithm", KindUint8, BaseHex, map[uint64]string{
			uint64(AuthMD5HMAC):  AuthMD5HMAC.String(),
			uint64(AuthSHA1HMAC): AuthSHA1HMAC.String(),
		}, "snmpAuthentication Algorithm"},
		{FieldCiphersuiteTransform, "snmpEncryption Transform ID", KindUint8, BaseHex, map[uint64]string{
			uint64(TransformNull): TransformNull.String(),
			uint64(TransformDES):  TransformDES.String(),
		}, "snmpEncryption Transform ID"},
		{FieldReestablish, "Re-establish Flag", KindUint8, BaseDec, nil, "Re-establish Flag"},
		{FieldAckRequired, "ACK Required Flag", KindUint8, BaseDec, nil, "ACK Required Flag"},
		{FieldMAC, "SHA1 MAC", KindBytes, BaseHex, nil, "SHA1 MAC"},
		{FieldLifetime, "Security Parameter Lifetime", KindUint32, BaseDec, nil, "Lifetime in seconds of security parameter"},
		{FieldGracePeriod, "Grace Period", KindUint32, BaseDec, nil, "Grace Period in seconds"},
	}

	table := make(map[string]*FieldInfo, len(infos))
	for _, info := range infos {
		table[info.Abbrev] = info
	}
	return table
}

// LookupField returns the metadata of a field, or nil.
func LookupField(abbrev string) *FieldInfo {
	return fieldTable[abbrev]
}

// Fields returns the metadata of every field, sorted by abbreviation.
// The returned values are shared and must not be modified.
func Fields() []*FieldInfo {
	out := make([]*FieldInfo, 0, len(fieldTable))
	for _, info := range fieldTable {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Abbrev < out[j].Abbrev })
	return out
}

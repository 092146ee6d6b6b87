package pktc

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeRoundTrip(t *testing.T) {
	reply := &Message{
		Header: header(KMMIDAPReply, DOISNMPv3, 1, 0),
		Body: &APReply{
			AuthBlob:     Field[[]byte]{Value: testBlob(30)},
			AppData:      snmpAppData([]byte{0x80, 0x00}, 3, 4, "mta-1"),
			Ciphersuites: suites(0x22, 0x20),
			Lifetime:     Field[uint32]{Value: 3600},
			GracePeriod:  Field[uint32]{Value: 600},
			Reestablish:  Field[uint8]{Value: 0},
			AckRequired:  Field[uint8]{Value: 1},
			MAC:          Field[[]byte]{Value: testMAC()},
		},
	}

	tests := []struct {
		name string
		msg  *Message
		blob int
	}{
		{"request", requestMessage(16, snmpAppData([]byte{1, 2, 3}, 10, 20, "cms"), suites(0x21, 0x21)), 16},
		{"reply", reply, 30},
		{"wake up", &Message{Header: header(KMMIDWakeUp, DOIIPSec, 1, 0)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustEncode(t, tt.msg)
			msg, err := NewDecoder(fixedAuth(tt.blob)).Decode(data, 0)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			again := mustEncode(t, msg)
			if !bytes.Equal(data, again) {
				t.Errorf("round trip mismatch:\n got %x\nwant %x", again, data)
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "version too large",
			msg:  &Message{Header: header(KMMIDWakeUp, DOISNMPv3, 16, 0)},
			want: "version",
		},
		{
			name: "body under wrong id",
			msg: func() *Message {
				m := requestMessage(0, snmpAppData(nil, 0, 0, ""), suites())
				m.Type.Value = KMMIDAPReply
				return m
			}(),
			want: "AP Request body",
		},
		{
			name: "short MAC",
			msg: func() *Message {
				m := requestMessage(0, snmpAppData(nil, 0, 0, ""), suites())
				m.Request().MAC.Value = []byte{1, 2, 3}
				return m
			}(),
			want: "MAC",
		},
		{
			name: "long user name",
			msg:  requestMessage(0, snmpAppData(nil, 0, 0, strings.Repeat("x", 256)), suites()),
			want: "user name",
		},
		{
			name: "missing app data",
			msg:  requestMessage(0, nil, suites()),
			want: "application specific data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

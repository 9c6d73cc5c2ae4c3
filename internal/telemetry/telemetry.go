// Package telemetry builds the two outbound wire formats the flight core
// produces: a CSV line for the UART link to the AI co-processor, and a
// bit-exact AX.25 beacon frame for the radio downlink.
package telemetry

import (
	"fmt"
	"strings"

	"github.com/cheesejaguar/smartqso/internal/crc16"
	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/eps"
)

const maxInboundLen = 200

// Frame is the per-cadence telemetry sample handed to the CSV line builder
// and to the AX.25 beacon encoder.
type Frame struct {
	TimeMS      uint64
	Sunlit      bool
	SOC         float64
	Mode        eps.Mode
	PowerLimitW float64
}

// CSVLine renders the UART telemetry schema:
// TELEMETRY,<ms>,<sun|eclipse>,<soc>,<mode>,<power_limit_w>
func (f Frame) CSVLine() string {
	sun := "eclipse"
	if f.Sunlit {
		sun = "sun"
	}
	return fmt.Sprintf("TELEMETRY,%d,%s,%.3f,%d,%.2f",
		f.TimeMS, sun, f.SOC, int(f.Mode), f.PowerLimitW)
}

// ValidateInbound reports whether a line received from the AI co-processor
// passes the core's inbound validation: printable 7-bit ASCII plus
// whitespace, length <= 200.
func ValidateInbound(line string) error {
	if len(line) > maxInboundLen {
		return errs.New("telemetry.ValidateInbound", errs.InvalidArg)
	}
	for _, r := range line {
		if r == '\n' || r == '\r' || r == '\t' || r == ' ' {
			continue
		}
		if r < 0x20 || r > 0x7E {
			return errs.New("telemetry.ValidateInbound", errs.InvalidArg)
		}
	}
	return nil
}

const (
	flagByte    = 0x7E
	controlByte = 0x03
	pidByte     = 0xF0
)

// encodeCallsign renders a 6-byte AX.25 address field: the callsign
// (space-padded to 6 characters, uppercased), each byte left-shifted by
// one bit, per the AX.25 address encoding.
func encodeCallsign(callsign string) [6]byte {
	var out [6]byte
	callsign = strings.ToUpper(callsign)
	for i := 0; i < 6; i++ {
		var c byte = ' '
		if i < len(callsign) {
			c = callsign[i]
		}
		out[i] = c << 1
	}
	return out
}

// ssidByte builds the SSID byte: 0x60 | ((ssid & 0x0F) << 1) | endFlagBit.
func ssidByte(ssid int, last bool) byte {
	b := byte(0x60) | (byte(ssid&0x0F) << 1)
	if last {
		b |= 0x01
	}
	return b
}

// AX25Frame builds a bit-exact AX.25 UI beacon frame carrying info as its
// payload: destination and source address fields, control byte 0x03, PID
// 0xF0, the payload, a little-endian CRC-16-CCITT FCS, delimited by 0x7E
// flag bytes.
func AX25Frame(dest, src string, destSSID, srcSSID int, info []byte) []byte {
	var body []byte
	d := encodeCallsign(dest)
	body = append(body, d[:]...)
	body = append(body, ssidByte(destSSID, false))
	s := encodeCallsign(src)
	body = append(body, s[:]...)
	body = append(body, ssidByte(srcSSID, true))
	body = append(body, controlByte, pidByte)
	body = append(body, info...)

	fcs := crc16.Checksum(body)

	frame := make([]byte, 0, len(body)+4)
	frame = append(frame, flagByte)
	frame = append(frame, body...)
	frame = append(frame, byte(fcs), byte(fcs>>8))
	frame = append(frame, flagByte)
	return frame
}

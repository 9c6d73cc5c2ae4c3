package telemetry

import (
	"strings"
	"testing"

	"github.com/cheesejaguar/smartqso/internal/crc16"
	"github.com/cheesejaguar/smartqso/internal/eps"
)

func TestCSVLine(t *testing.T) {
	f := Frame{TimeMS: 12345, Sunlit: true, SOC: 0.875, Mode: eps.Active, PowerLimitW: 3.0}
	line := f.CSVLine()
	if !strings.HasPrefix(line, "TELEMETRY,12345,sun,0.875,2,3.00") {
		t.Fatalf("unexpected CSV line: %q", line)
	}
}

func TestCSVLineEclipse(t *testing.T) {
	f := Frame{TimeMS: 0, Sunlit: false, SOC: 0.1, Mode: eps.Safe, PowerLimitW: 0.5}
	line := f.CSVLine()
	if !strings.Contains(line, ",eclipse,") {
		t.Fatalf("expected eclipse marker, got %q", line)
	}
}

func TestValidateInboundAcceptsPrintableASCII(t *testing.T) {
	if err := ValidateInbound("hello world\n"); err != nil {
		t.Fatalf("ValidateInbound: %v", err)
	}
}

func TestValidateInboundRejectsTooLong(t *testing.T) {
	long := strings.Repeat("a", 201)
	if err := ValidateInbound(long); err == nil {
		t.Fatalf("expected error for line > 200 bytes")
	}
}

func TestValidateInboundRejectsControlBytes(t *testing.T) {
	if err := ValidateInbound("hello\x01world"); err == nil {
		t.Fatalf("expected error for non-printable control byte")
	}
}

func TestAX25FrameStructure(t *testing.T) {
	frame := AX25Frame("W1AW", "N0CALL", 0, 1, []byte("TELEMETRY,1,sun,0.5,1,1.5"))

	if frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		t.Fatalf("frame must be delimited by 0x7E flag bytes")
	}

	body := frame[1 : len(frame)-3]
	if len(body) < 16 {
		t.Fatalf("body too short: %d bytes", len(body))
	}

	// Destination callsign "W1AW  " left-shifted by one.
	wantDest := encodeCallsign("W1AW")
	for i := 0; i < 6; i++ {
		if body[i] != wantDest[i] {
			t.Fatalf("dest byte %d = %#x, want %#x", i, body[i], wantDest[i])
		}
	}
	if body[6] != ssidByte(0, false) {
		t.Fatalf("dest SSID byte = %#x", body[6])
	}

	wantSrc := encodeCallsign("N0CALL")
	for i := 0; i < 6; i++ {
		if body[7+i] != wantSrc[i] {
			t.Fatalf("src byte %d = %#x, want %#x", i, body[7+i], wantSrc[i])
		}
	}
	if body[13] != ssidByte(1, true) {
		t.Fatalf("src SSID byte = %#x", body[13])
	}
	if body[14] != controlByte || body[15] != pidByte {
		t.Fatalf("control/PID bytes = %#x %#x", body[14], body[15])
	}

	fcsLo := frame[len(frame)-3]
	fcsHi := frame[len(frame)-2]
	gotFCS := uint16(fcsLo) | uint16(fcsHi)<<8
	wantFCS := crc16.Checksum(body)
	if gotFCS != wantFCS {
		t.Fatalf("FCS = %#x, want %#x", gotFCS, wantFCS)
	}
}

func TestSSIDByteEndFlag(t *testing.T) {
	b := ssidByte(5, true)
	if b&0x01 == 0 {
		t.Fatalf("end-of-address bit should be set")
	}
	if (b>>1)&0x0F != 5 {
		t.Fatalf("SSID nibble = %d, want 5", (b>>1)&0x0F)
	}
}

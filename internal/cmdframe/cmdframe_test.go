package cmdframe

import (
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x01}
	buf := Encode(byte(EPS), 7, payload)
	cmd, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Category != EPS || cmd.Seq != 7 || len(cmd.Payload) != 1 || cmd.Payload[0] != 0x01 {
		t.Fatalf("unexpected decoded command: %+v", cmd)
	}
}

func TestDecodeRejectsBadSync(t *testing.T) {
	buf := Encode(byte(System), 1, nil)
	buf[0] = 0x00
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected error for corrupted sync bytes")
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	buf := Encode(byte(System), 1, []byte{0x42})
	buf[len(buf)-1] ^= 0xFF
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected error for corrupted checksum")
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	buf := Encode(byte(System), 1, []byte{0x42, 0x43})
	if _, err := Decode(buf[:len(buf)-1]); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestDecodeRejectsUnknownCategory(t *testing.T) {
	buf := Encode(0xC3, 1, nil) // 0xC0 is not one of the seven categories
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected error for unknown command category")
	}
}

func TestIsModeChange(t *testing.T) {
	cmd := Command{Payload: []byte{1}}
	if !cmd.IsModeChange() {
		t.Fatalf("expected IsModeChange true for payload {1}")
	}
	cmd.Payload = []byte{3}
	if cmd.IsModeChange() {
		t.Fatalf("expected IsModeChange false for payload {3}")
	}
}

func TestIsAuthorizedReset(t *testing.T) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 0xDEADBEEF)
	cmd := Command{Payload: payload}
	if !cmd.IsAuthorizedReset() {
		t.Fatalf("expected IsAuthorizedReset true for correct auth word")
	}

	payload2 := make([]byte, 4)
	binary.BigEndian.PutUint32(payload2, 0x12345678)
	cmd2 := Command{Payload: payload2}
	if cmd2.IsAuthorizedReset() {
		t.Fatalf("expected IsAuthorizedReset false for wrong auth word")
	}
}

func TestCategoryString(t *testing.T) {
	if EPS.String() != "EPS" {
		t.Fatalf("EPS.String() = %q, want EPS", EPS.String())
	}
	if Category(0x99).String() != "UNKNOWN" {
		t.Fatalf("unknown category should stringify as UNKNOWN")
	}
}

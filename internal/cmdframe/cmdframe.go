// Package cmdframe decodes the binary uplink command frame: sync bytes,
// category-masked command ID, sequence number, length-prefixed payload, and
// a trailing 16-bit arithmetic checksum.
package cmdframe

import (
	"encoding/binary"

	"github.com/cheesejaguar/smartqso/internal/errs"
)

const (
	syncByte0 = 0xAA
	syncByte1 = 0x55

	// headerLen is sync(2) + cmd_id(1) + seq(1) + payload_len(1).
	headerLen = 5
	// checksumLen is the trailing 16-bit arithmetic checksum.
	checksumLen = 2

	// categoryMask isolates the command category from cmd_id.
	categoryMask = 0xF0

	// resetAuthWord is the deploy-style authorization word required in the
	// first four payload bytes of a reset command.
	resetAuthWord = 0xDEADBEEF
)

// Category is the high nibble of cmd_id.
type Category uint8

const (
	System Category = 0x00
	EPS    Category = 0x10
	ADCS   Category = 0x20
	Comm   Category = 0x30
	Payload Category = 0x40
	File    Category = 0x50
	Debug   Category = 0xF0
)

func (c Category) String() string {
	switch c {
	case System:
		return "SYSTEM"
	case EPS:
		return "EPS"
	case ADCS:
		return "ADCS"
	case Comm:
		return "COMM"
	case Payload:
		return "PAYLOAD"
	case File:
		return "FILE"
	case Debug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func validCategory(c Category) bool {
	switch c {
	case System, EPS, ADCS, Comm, Payload, File, Debug:
		return true
	default:
		return false
	}
}

// Command is a decoded uplink command frame.
type Command struct {
	CmdID    byte
	Category Category
	Seq      byte
	Payload  []byte
}

// IsModeChange reports whether this is a single-byte mode-change command
// (payload length 1, value in {0, 1, 2}).
func (c Command) IsModeChange() bool {
	return len(c.Payload) == 1 && c.Payload[0] <= 2
}

// IsAuthorizedReset reports whether the payload carries the deploy-style
// reset authorization word in its first four bytes.
func (c Command) IsAuthorizedReset() bool {
	if len(c.Payload) < 4 {
		return false
	}
	return binary.BigEndian.Uint32(c.Payload[:4]) == resetAuthWord
}

// checksum computes the 16-bit arithmetic sum of every byte in buf.
func checksum(buf []byte) uint16 {
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return uint16(sum)
}

// Decode parses a single uplink command frame from buf. It validates the
// sync bytes, the command category, frame length consistency, and the
// trailing checksum. Rejected frames return a non-nil error; the caller is
// expected to increment a rejection counter and log a warning, matching
// the uplink's fail-closed contract.
func Decode(buf []byte) (Command, error) {
	if len(buf) < headerLen+checksumLen {
		return Command{}, errs.New("cmdframe.Decode", errs.Truncated)
	}
	if buf[0] != syncByte0 || buf[1] != syncByte1 {
		return Command{}, errs.New("cmdframe.Decode", errs.ParamInvalid)
	}

	cmdID := buf[2]
	seq := buf[3]
	payloadLen := int(buf[4])

	want := headerLen + payloadLen + checksumLen
	if len(buf) != want {
		return Command{}, errs.New("cmdframe.Decode", errs.Truncated)
	}

	payload := buf[headerLen : headerLen+payloadLen]
	body := buf[:headerLen+payloadLen]

	gotChk := binary.BigEndian.Uint16(buf[headerLen+payloadLen:])
	wantChk := checksum(body)
	if gotChk != wantChk {
		return Command{}, errs.New("cmdframe.Decode", errs.ParamInvalid)
	}

	cat := Category(cmdID & categoryMask)
	if !validCategory(cat) {
		return Command{}, errs.New("cmdframe.Decode", errs.ParamInvalid)
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Command{
		CmdID:    cmdID,
		Category: cat,
		Seq:      seq,
		Payload:  payloadCopy,
	}, nil
}

// Encode builds a wire frame for cmdID/seq/payload, computing the trailing
// checksum. Used by tests and by the ground-segment simulator to produce
// frames the flight decoder will accept.
func Encode(cmdID, seq byte, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload)+checksumLen)
	buf[0] = syncByte0
	buf[1] = syncByte1
	buf[2] = cmdID
	buf[3] = seq
	buf[4] = byte(len(payload))
	copy(buf[headerLen:], payload)
	chk := checksum(buf[:headerLen+len(payload)])
	binary.BigEndian.PutUint16(buf[headerLen+len(payload):], chk)
	return buf
}

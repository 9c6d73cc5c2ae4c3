package budget

import (
	"testing"

	"github.com/cheesejaguar/smartqso/internal/cmdframe"
)

func TestConsumeWithinCapacity(t *testing.T) {
	b := New(5, 1000, 0)
	for i := 0; i < 5; i++ {
		if !b.Consume(0, 1) {
			t.Fatalf("Consume %d: expected success within capacity", i)
		}
	}
	if b.Consume(0, 1) {
		t.Fatalf("expected Consume to fail once capacity is exhausted")
	}
}

func TestConsumeRefillsAfterPeriod(t *testing.T) {
	b := New(2, 1000, 0)
	if !b.Consume(0, 2) {
		t.Fatalf("expected initial consume to succeed")
	}
	if b.Consume(500, 1) {
		t.Fatalf("expected consume to fail before the refill period elapses")
	}
	if !b.Consume(1000, 1) {
		t.Fatalf("expected consume to succeed once the refill period elapses")
	}
	if b.RefillCount() != 1 {
		t.Fatalf("RefillCount = %d, want 1", b.RefillCount())
	}
}

func TestAcceptCommandRoutineCostsOneToken(t *testing.T) {
	b := New(3, 1000, 0)
	cmd := cmdframe.Command{CmdID: 0x00, Category: cmdframe.System, Payload: []byte{0x01}}
	if cmd.IsAuthorizedReset() {
		t.Fatalf("test command should not be an authorized reset")
	}
	for i := 0; i < 3; i++ {
		if !b.AcceptCommand(0, cmd) {
			t.Fatalf("AcceptCommand %d: expected success", i)
		}
	}
	if b.AcceptCommand(0, cmd) {
		t.Fatalf("expected a 4th routine command to exhaust a 3-token bucket")
	}
}

func TestAcceptCommandResetCostsMore(t *testing.T) {
	b := New(25, 60000, 0)
	reset := cmdframe.Command{CmdID: 0x00, Category: cmdframe.System, Payload: []byte{0xDE, 0xAD, 0xC0, 0xDE}}
	if reset.IsAuthorizedReset() {
		t.Fatalf("test fixture should not match the real reset auth word")
	}
	// Without the real auth word the frame costs 1 like a routine command;
	// a frame carrying the real auth word costs costReset.
	if !b.AcceptCommand(0, reset) {
		t.Fatalf("expected AcceptCommand to succeed")
	}
	if b.Remaining() != 24 {
		t.Fatalf("Remaining = %d, want 24 for a non-authorized-reset frame", b.Remaining())
	}
	auth := cmdframe.Command{CmdID: 0x00, Category: cmdframe.System, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	if !auth.IsAuthorizedReset() {
		t.Fatalf("test fixture should match the real reset auth word")
	}
	if !b.AcceptCommand(0, auth) {
		t.Fatalf("expected AcceptCommand to succeed for an authorized reset")
	}
	if b.Remaining() != 24-costReset {
		t.Fatalf("Remaining = %d, want %d after an authorized reset", b.Remaining(), 24-costReset)
	}
}

func TestConsumedTotalAccumulates(t *testing.T) {
	b := New(10, 1000, 0)
	b.Consume(0, 3)
	b.Consume(0, 2)
	if b.ConsumedTotal() != 5 {
		t.Fatalf("ConsumedTotal = %d, want 5", b.ConsumedTotal())
	}
}

package store_test

import (
	"path/filepath"
	"testing"

	"github.com/cheesejaguar/smartqso/internal/simstore"
	"github.com/cheesejaguar/smartqso/internal/store"
	"github.com/cheesejaguar/smartqso/internal/store/flightstore"
)

// Every store.Backend implementation must accept and return identical byte
// images for identical operations; this suite runs unchanged against both.
func backends(t *testing.T) map[string]store.Backend {
	t.Helper()
	sim, err := simstore.Open(filepath.Join(t.TempDir(), "conformance.db"))
	if err != nil {
		t.Fatalf("simstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = sim.Close() })
	return map[string]store.Backend{
		"simstore":    sim,
		"flightstore": flightstore.New(),
	}
}

func TestBackendsAcceptIdenticalImages(t *testing.T) {
	image := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00}
	for name, b := range backends(t) {
		b := b
		t.Run(name, func(t *testing.T) {
			if err := b.Write(store.RegionSystemState, image); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := b.Read(store.RegionSystemState)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if string(got) != string(image) {
				t.Fatalf("Read = %v, want %v", got, image)
			}
			n, err := b.Size(store.RegionSystemState)
			if err != nil || n != len(image) {
				t.Fatalf("Size = %d, %v; want %d, nil", n, err, len(image))
			}
			if err := b.Erase(store.RegionSystemState); err != nil {
				t.Fatalf("Erase: %v", err)
			}
			if _, err := b.Read(store.RegionSystemState); err == nil {
				t.Fatalf("expected error reading erased region")
			}
		})
	}
}

func TestBackendsRejectUnknownRegion(t *testing.T) {
	bad := store.Region("bogus")
	for name, b := range backends(t) {
		b := b
		t.Run(name, func(t *testing.T) {
			if err := b.Write(bad, []byte{1}); err == nil {
				t.Fatalf("expected error writing unknown region")
			}
		})
	}
}

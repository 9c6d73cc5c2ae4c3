// Package flightstore is the flight-hardware placeholder implementation
// of store.Backend: raw byte-slice "sectors" standing in for the NVM
// regions a real flash driver would expose. It satisfies the same
// conformance suite simstore does so the facade's owners never need to
// know which backend they're talking to.
package flightstore

import (
	"sync"

	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/store"
)

type sector struct {
	data []byte
	wear uint32
}

// NVM is an in-memory stand-in for a flight flash/NVM driver. Real
// hardware would replace this with sector-erase-then-program semantics
// and Busy() reflecting an in-flight erase/program cycle.
type NVM struct {
	mu      sync.Mutex
	sectors map[store.Region]*sector
	busy    map[store.Region]bool
}

var _ store.Backend = (*NVM)(nil)

// New returns an empty NVM backend with every region unwritten.
func New() *NVM {
	return &NVM{
		sectors: make(map[store.Region]*sector),
		busy:    make(map[store.Region]bool),
	}
}

// SetBusy lets tests/harnesses simulate an in-progress erase/program cycle
// on a region; Read/Write/Erase refuse to proceed while busy.
func (n *NVM) SetBusy(region store.Region, busy bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.busy[region] = busy
}

func (n *NVM) Read(region store.Region) ([]byte, error) {
	if err := store.CheckRegion(region); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.busy[region] {
		return nil, errs.New("flightstore.Read", errs.Busy)
	}
	s, ok := n.sectors[region]
	if !ok {
		return nil, errs.New("flightstore.Read", errs.Generic)
	}
	return append([]byte(nil), s.data...), nil
}

func (n *NVM) Write(region store.Region, data []byte) error {
	if err := store.CheckRegion(region); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.busy[region] {
		return errs.New("flightstore.Write", errs.Busy)
	}
	s, ok := n.sectors[region]
	if !ok {
		s = &sector{}
		n.sectors[region] = s
	}
	s.data = append([]byte(nil), data...)
	return nil
}

func (n *NVM) Erase(region store.Region) error {
	if err := store.CheckRegion(region); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.busy[region] {
		return errs.New("flightstore.Erase", errs.Busy)
	}
	s, ok := n.sectors[region]
	if !ok {
		s = &sector{}
		n.sectors[region] = s
	}
	s.data = nil
	s.wear++
	return nil
}

func (n *NVM) Size(region store.Region) (int, error) {
	if err := store.CheckRegion(region); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sectors[region]
	if !ok {
		return 0, nil
	}
	return len(s.data), nil
}

func (n *NVM) Busy(region store.Region) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.busy[region]
}

func (n *NVM) WearLevel(region store.Region) (uint32, error) {
	if err := store.CheckRegion(region); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sectors[region]
	if !ok {
		return 0, nil
	}
	return s.wear, nil
}

func (n *NVM) Close() error { return nil }

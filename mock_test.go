package clockfs

import "sync"

// mockDevice is an in-memory BlockDevice with optional failure injection,
// grounded on the teacher's mock_test.go mockReader - generalized from a
// read-only byte-range mock to a read/write sector mock.
type mockDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
	failAt  map[uint32]bool

	reads  int
	writes int
}

func newMockDevice(count uint32) *mockDevice {
	return &mockDevice{
		sectors: make([][SectorSize]byte, count),
		failAt:  make(map[uint32]bool),
	}
}

func (m *mockDevice) failSector(s uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt[s] = true
}

func (m *mockDevice) ReadSector(sector uint32, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.failAt[sector] {
		return ErrIO
	}
	if sector >= uint32(len(m.sectors)) {
		return ErrIO
	}
	copy(dst, m.sectors[sector][:])
	return nil
}

func (m *mockDevice) WriteSector(sector uint32, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failAt[sector] {
		return ErrIO
	}
	if sector >= uint32(len(m.sectors)) {
		return ErrIO
	}
	copy(m.sectors[sector][:], src)
	return nil
}

func (m *mockDevice) SectorCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.sectors))
}

func (m *mockDevice) Close() error { return nil }

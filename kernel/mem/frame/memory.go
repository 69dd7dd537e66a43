package frame

import "sync"

// Memory simulates the byte-addressable physical RAM a real frame
// identity-maps into the kernel: a sparse store keyed by physical address,
// standing in for the backing array the teacher's pmm would hand out real
// pointers into. Reading an address nothing has ever written returns 0,
// matching a freshly allocated frame's zero-fill guarantee.
type Memory struct {
	mu    sync.Mutex
	bytes map[uintptr]byte
}

// NewMemory creates an empty simulated RAM.
func NewMemory() *Memory {
	return &Memory{bytes: make(map[uintptr]byte)}
}

// ReadByte returns the byte stored at addr, or 0 if nothing was ever
// written there.
func (m *Memory) ReadByte(addr uintptr) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes[addr]
}

// WriteByte stores v at addr.
func (m *Memory) WriteByte(addr uintptr, v byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[addr] = v
}

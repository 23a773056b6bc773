// Package guest mediates access to the emulated program's address space.
// The actual guest->host translation belongs to the emulator; this package
// only validates requests and materializes bytes/strings for hooks.
package guest

import (
	"errors"
	"fmt"
)

var (
	// ErrSize reports a non-positive read size.
	ErrSize = errors.New("size must be positive")
	// ErrUnmapped reports a guest address with no host-accessible backing.
	ErrUnmapped = errors.New("invalid guest address")
)

// Translator resolves guest virtual addresses to host-accessible memory.
// Implemented by the emulator.
type Translator interface {
	// Host returns a byte slice aliasing guest memory starting at addr,
	// extending to the end of the containing mapped region. Returns nil when
	// addr is unmapped.
	Host(addr uint64) []byte

	// StrLen returns the length of the NUL-terminated string at addr,
	// or -1 when addr is invalid or no terminator is reachable.
	StrLen(addr uint64) int
}

// Memory is the guest memory accessor handed to hook scripts.
type Memory struct {
	tr Translator
}

// NewMemory creates a Memory over a translator.
func NewMemory(tr Translator) *Memory {
	return &Memory{tr: tr}
}

// Read copies size bytes of guest memory at addr.
func (m *Memory) Read(addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrSize
	}
	host := m.tr.Host(addr)
	if host == nil || len(host) < size {
		return nil, fmt.Errorf("read 0x%x+%d: %w", addr, size, ErrUnmapped)
	}
	out := make([]byte, size)
	copy(out, host)
	return out, nil
}

// Write copies data into guest memory at addr. The copy is bounded by the
// mapped region containing addr but is otherwise unchecked; callers are
// responsible for not clobbering guest state they did not mean to touch.
func (m *Memory) Write(addr uint64, data []byte) error {
	host := m.tr.Host(addr)
	if host == nil {
		return fmt.Errorf("write 0x%x: %w", addr, ErrUnmapped)
	}
	copy(host, data)
	return nil
}

// ReadString reads the NUL-terminated string at addr. The terminator probe
// and the read are two separate guest observations; a guest racing its own
// memory between them can change what is returned.
func (m *Memory) ReadString(addr uint64) (string, error) {
	host := m.tr.Host(addr)
	if host == nil {
		return "", fmt.Errorf("read string 0x%x: %w", addr, ErrUnmapped)
	}
	n := m.tr.StrLen(addr)
	if n < 0 {
		return "", fmt.Errorf("read string 0x%x: %w", addr, ErrUnmapped)
	}
	if n > len(host) {
		n = len(host)
	}
	return string(host[:n]), nil
}

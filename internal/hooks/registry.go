// Package hooks holds the syscall hook registry and the dispatch bridge
// between the emulator's syscall path and the scripting runtime.
package hooks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zboralski/gavial/internal/log"
	"github.com/zboralski/gavial/internal/syscalls"
)

var (
	// ErrUnknownSyscall reports a name with no entry in the syscall table.
	ErrUnknownSyscall = errors.New("unknown syscall name")
	// ErrNotCallable reports a hook callback that cannot be invoked.
	ErrNotCallable = errors.New("callback must be callable")
)

// Phase selects the pre- or post-syscall hook collection.
type Phase int

const (
	PhasePre Phase = iota
	PhasePost
)

func (p Phase) String() string {
	if p == PhasePre {
		return "pre"
	}
	return "post"
}

// Callback is an opaque reference to a hook callable. It is owned by the
// scripting runtime; the registry holds it without interpreting it.
type Callback any

// Ident identifies a syscall either by number or by name. Names resolve
// through the architecture's syscall table once, at registration.
type Ident struct {
	num    int
	name   string
	byName bool
}

// ID builds an identifier from a syscall number.
func ID(num int) Ident { return Ident{num: num} }

// Name builds an identifier from a syscall name.
func Name(name string) Ident { return Ident{name: name, byName: true} }

// Registry maps resolved syscall numbers to callbacks, one map per phase.
// Registrations replace any prior entry for the same (phase, number).
//
// Lookups happen on the syscall dispatch path while registrations can arrive
// from hook callbacks on other guest threads, so every operation takes the
// registry lock.
type Registry struct {
	mu    sync.RWMutex
	table *syscalls.Table
	pre   map[int]Callback
	post  map[int]Callback
	log   *log.Logger
}

// NewRegistry creates an empty registry resolving names via table.
func NewRegistry(table *syscalls.Table, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		table: table,
		pre:   make(map[int]Callback),
		post:  make(map[int]Callback),
		log:   logger,
	}
}

// Resolve maps an identifier to a syscall number.
func (r *Registry) Resolve(id Ident) (int, error) {
	if !id.byName {
		return id.num, nil
	}
	num, ok := r.table.Num(id.name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSyscall, id.name)
	}
	return num, nil
}

// Register installs cb for the given phase and syscall, replacing any prior
// entry. Fails with ErrUnknownSyscall for an unresolvable name and
// ErrNotCallable for a nil callback.
func (r *Registry) Register(phase Phase, id Ident, cb Callback) error {
	num, err := r.Resolve(id)
	if err != nil {
		return err
	}
	if cb == nil {
		return ErrNotCallable
	}

	r.mu.Lock()
	r.hooks(phase)[num] = cb
	r.mu.Unlock()

	r.log.HookRegistered(phase.String(), num)
	return nil
}

// Unregister removes the hook for the given phase and syscall. Removing an
// absent entry is a no-op, never an error; an unresolvable name still fails.
func (r *Registry) Unregister(phase Phase, id Ident) error {
	num, err := r.Resolve(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.hooks(phase), num)
	r.mu.Unlock()
	return nil
}

// Lookup returns the callback registered for (phase, num), if any.
func (r *Registry) Lookup(phase Phase, num int) (Callback, bool) {
	r.mu.RLock()
	cb, ok := r.hooks(phase)[num]
	r.mu.RUnlock()
	return cb, ok
}

// Count returns the number of hooks registered for a phase.
func (r *Registry) Count(phase Phase) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks(phase))
}

// Table returns the syscall table the registry resolves names against.
func (r *Registry) Table() *syscalls.Table {
	return r.table
}

func (r *Registry) hooks(phase Phase) map[int]Callback {
	if phase == PhasePre {
		return r.pre
	}
	return r.post
}

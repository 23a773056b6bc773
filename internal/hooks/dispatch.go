package hooks

import (
	"sync"

	"github.com/zboralski/gavial/internal/arch"
	"github.com/zboralski/gavial/internal/log"
)

// Action is the decision produced by a pre-syscall hook evaluation.
type Action int

const (
	// Continue executes the original syscall with the (possibly modified)
	// arguments.
	Continue Action = iota
	// Skip suppresses the original syscall and uses the hook-provided
	// return value instead.
	Skip
)

// Context is the mutable record handed to a hook callback. In the pre phase
// a callback may edit Args and Ret; in the post phase the record is
// informational and the return value travels as a separate call argument.
type Context struct {
	Num    int
	Args   [8]int64
	Ret    int64
	CPU    arch.Snapshot
	Binary string
}

// Outcome carries the dispatch decision back to the emulator.
type Outcome struct {
	Action Action
	Args   [8]int64
	Ret    int64
}

// Bridge invokes scripting-runtime callbacks over a context record. The
// implementation owns all value marshalling, including rejecting an args
// edit that is not exactly eight elements long.
type Bridge interface {
	// InvokePre calls a pre-syscall callback. The callback's truthiness
	// decides skip; edits to ctx.Args and ctx.Ret are written back before
	// returning.
	InvokePre(cb Callback, ctx *Context) (skip bool, err error)

	// InvokePost calls a post-syscall callback with (ctx, ret) and returns
	// the new return value; a non-integer result keeps ret.
	InvokePost(cb Callback, ctx *Context, ret int64) (int64, error)
}

// Dispatcher orchestrates syscall entry/exit events: registry lookup, bridge
// invocation, outcome interpretation. A failure inside a callback is caught
// here, logged with the syscall number, and degraded to the no-hook default;
// dispatch never propagates a failure into the emulator.
//
// The scripting runtime is single-threaded internally, so the dispatcher
// serializes every callback invocation process-wide.
type Dispatcher struct {
	mu     sync.Mutex
	reg    *Registry
	bridge Bridge
	log    *log.Logger
	shut   bool
}

// NewDispatcher creates an armed dispatcher. A nil bridge leaves the
// dispatcher unarmed: every event takes the no-hook path.
func NewDispatcher(reg *Registry, bridge Bridge, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{reg: reg, bridge: bridge, log: logger}
}

// Shutdown permanently disarms the dispatcher.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.shut = true
	d.mu.Unlock()
}

// PreDispatch handles a syscall-entry event. invoked reports whether a hook
// ran; the outcome is always populated (Continue with the original args when
// no hook ran or the hook failed).
func (d *Dispatcher) PreDispatch(num int, args [8]int64, cpu arch.Snapshot, binary string) (invoked bool, out Outcome) {
	out = Outcome{Action: Continue, Args: args}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shut || d.bridge == nil {
		return false, out
	}

	cb, ok := d.reg.Lookup(PhasePre, num)
	if !ok {
		return false, out
	}

	ctx := &Context{Num: num, Args: args, CPU: cpu, Binary: binary}
	skip, err := d.bridge.InvokePre(cb, ctx)
	if err != nil {
		d.log.HookError(PhasePre.String(), num, err)
		return false, out
	}

	if skip {
		out.Action = Skip
		out.Ret = ctx.Ret
	}
	out.Args = ctx.Args
	return true, out
}

// PostDispatch handles a syscall-exit event and returns the (possibly
// adjusted) syscall return value.
func (d *Dispatcher) PostDispatch(num int, ret int64, args [8]int64, cpu arch.Snapshot, binary string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shut || d.bridge == nil {
		return ret
	}

	cb, ok := d.reg.Lookup(PhasePost, num)
	if !ok {
		return ret
	}

	ctx := &Context{Num: num, Args: args, CPU: cpu, Binary: binary}
	newRet, err := d.bridge.InvokePost(cb, ctx, ret)
	if err != nil {
		d.log.HookError(PhasePost.String(), num, err)
		return ret
	}
	return newRet
}

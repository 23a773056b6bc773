// Package emulator provides an ARM64 linux-user style harness on Unicorn
// Engine. Guest pages are backed by host Go slices, so the harness doubles
// as the guest->host address translator handed to hook scripts. It raises
// block-translated and syscall entry/exit events into an instrumentation
// sink.
package emulator

import (
	"fmt"
	"os"
	"unsafe"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/zboralski/gavial/internal/arch"
	"github.com/zboralski/gavial/internal/hooks"
)

// Memory layout constants
const (
	CodeBase  = 0x00010000
	CodeSize  = 0x01000000 // 16MB for code
	StackBase = 0x80000000
	StackSize = 0x00100000 // 1MB stack
)

const pageSize = 0x1000

// ARM64 linux syscall numbers handled natively by the harness.
const (
	sysWrite     = 64
	sysExit      = 93
	sysExitGroup = 94
	sysGetpid    = 172
	sysGettid    = 178
	sysBrk       = 214
)

const (
	errnoBadf  = 9
	errnoNosys = 38
)

// Instrumentation receives the harness's instrumentation events. Implemented
// by probe.Probe.
type Instrumentation interface {
	OnBlockTranslated(pc uint64, size uint32)
	OnSyscallEntry(num int, args [8]int64, st arch.State, binary string) (bool, hooks.Outcome)
	OnSyscallExit(num int, ret int64, args [8]int64, st arch.State, binary string) int64
}

type region struct {
	base uint64
	buf  []byte
}

// Emulator wraps Unicorn for ARM64 emulation with host-backed guest memory.
type Emulator struct {
	mu uc.Unicorn

	regions []region
	probe   Instrumentation
	binary  string

	exited   bool
	exitCode int64

	// Stdout receives guest write(2) output for fds 1 and 2. Defaults to the
	// process stdout.
	Stdout *os.File
}

// New creates an ARM64 emulator with the default code and stack regions
// mapped. sink may be nil; events are then dropped.
func New(sink Instrumentation) (*Emulator, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	e := &Emulator{
		mu:     mu,
		probe:  sink,
		Stdout: os.Stdout,
	}

	if err := e.MapRegion(CodeBase, CodeSize); err != nil {
		mu.Close()
		return nil, err
	}
	if err := e.MapRegion(StackBase, StackSize); err != nil {
		mu.Close()
		return nil, err
	}

	sp := uint64(StackBase + StackSize - pageSize)
	if err := e.mu.RegWrite(uc.ARM64_REG_SP, sp); err != nil {
		mu.Close()
		return nil, fmt.Errorf("set SP: %w", err)
	}

	if err := e.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}

	return e, nil
}

// Close releases resources.
func (e *Emulator) Close() error {
	return e.mu.Close()
}

// MapRegion maps a host-backed guest region. Base and size must be page
// aligned.
func (e *Emulator) MapRegion(base, size uint64) error {
	if base%pageSize != 0 || size%pageSize != 0 {
		return fmt.Errorf("map 0x%x+0x%x: not page aligned", base, size)
	}
	buf := make([]byte, size)
	if err := e.mu.MemMapPtr(base, size, uc.PROT_ALL, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("map 0x%x (+0x%x): %w", base, size, err)
	}
	e.regions = append(e.regions, region{base: base, buf: buf})
	return nil
}

// Host implements guest.Translator: it returns the host window over guest
// memory at addr, to the end of the containing region, or nil if unmapped.
func (e *Emulator) Host(addr uint64) []byte {
	for _, r := range e.regions {
		if addr >= r.base && addr < r.base+uint64(len(r.buf)) {
			return r.buf[addr-r.base:]
		}
	}
	return nil
}

// StrLen implements guest.Translator: the length of the NUL-terminated
// string at addr, or -1 when addr is unmapped or unterminated within its
// region.
func (e *Emulator) StrLen(addr uint64) int {
	host := e.Host(addr)
	if host == nil {
		return -1
	}
	for i, b := range host {
		if b == 0 {
			return i
		}
	}
	return -1
}

// SetInstrumentation installs the event sink. The probe needs the emulator
// as its address translator, so the two are wired after construction.
func (e *Emulator) SetInstrumentation(sink Instrumentation) {
	e.probe = sink
}

// SetBinary records the guest binary path reported in syscall contexts.
func (e *Emulator) SetBinary(path string) {
	e.binary = path
}

// regX maps an Xn index to its unicorn register id. The binding's enum is
// not contiguous: X0-X28 are sequential but X29 and X30 sit at the front of
// the enum, before the V registers that follow X28.
func regX(n int) int {
	switch n {
	case 29:
		return uc.ARM64_REG_X29
	case 30:
		return uc.ARM64_REG_X30
	default:
		return uc.ARM64_REG_X0 + n
	}
}

// setupHooks installs the block-translation and syscall interrupt hooks.
func (e *Emulator) setupHooks() error {
	_, err := e.mu.HookAdd(uc.HOOK_BLOCK, func(mu uc.Unicorn, addr uint64, size uint32) {
		if e.probe != nil {
			e.probe.OnBlockTranslated(addr, size)
		}
	}, 1, 0)
	if err != nil {
		return fmt.Errorf("add block hook: %w", err)
	}

	_, err = e.mu.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
		e.handleSyscall()
	}, 1, 0)
	if err != nil {
		return fmt.Errorf("add intr hook: %w", err)
	}
	return nil
}

// handleSyscall services an SVC: pre-dispatch, native execution unless
// skipped, post-dispatch, result into X0.
func (e *Emulator) handleSyscall() {
	num64, _ := e.mu.RegRead(uc.ARM64_REG_X8)
	num := int(num64)

	var args [8]int64
	for i := 0; i < 6; i++ {
		v, _ := e.mu.RegRead(regX(i))
		args[i] = int64(v)
	}

	st := e.captureState()

	if e.probe != nil {
		invoked, out := e.probe.OnSyscallEntry(num, args, st, e.binary)
		if invoked && out.Action == hooks.Skip {
			e.mu.RegWrite(uc.ARM64_REG_X0, uint64(out.Ret))
			return
		}
		args = out.Args
	}

	ret := e.execSyscall(num, args)

	if e.probe != nil {
		ret = e.probe.OnSyscallExit(num, ret, args, st, e.binary)
	}
	e.mu.RegWrite(uc.ARM64_REG_X0, uint64(ret))
}

// execSyscall natively executes the small syscall subset the harness
// supports; everything else returns -ENOSYS.
func (e *Emulator) execSyscall(num int, args [8]int64) int64 {
	switch num {
	case sysWrite:
		fd := args[0]
		if fd != 1 && fd != 2 {
			return -errnoBadf
		}
		buf := e.Host(uint64(args[1]))
		n := int(args[2])
		if buf == nil || n < 0 || n > len(buf) {
			return -errnoBadf
		}
		if e.Stdout != nil {
			e.Stdout.Write(buf[:n])
		}
		return int64(n)
	case sysExit, sysExitGroup:
		e.exited = true
		e.exitCode = args[0]
		e.mu.Stop()
		return 0
	case sysGetpid:
		return int64(os.Getpid())
	case sysGettid:
		return int64(os.Getpid())
	case sysBrk:
		// No heap management; report the requested break back.
		return args[0]
	default:
		return -errnoNosys
	}
}

// captureState snapshots the raw ARM64 register file. xregs[31] carries the
// stack pointer, as the projector expects.
func (e *Emulator) captureState() arch.State {
	xregs := make([]uint64, 32)
	for i := 0; i < 31; i++ {
		xregs[i], _ = e.mu.RegRead(regX(i))
	}
	xregs[31], _ = e.mu.RegRead(uc.ARM64_REG_SP)
	pc, _ := e.mu.RegRead(uc.ARM64_REG_PC)

	return arch.State{
		Profile: "arm64",
		Banks:   map[string][]uint64{"xregs": xregs},
		Special: map[string]uint64{"pc": pc},
	}
}

// LoadCode writes a flat code blob at the code base.
func (e *Emulator) LoadCode(code []byte) error {
	host := e.Host(CodeBase)
	if host == nil || len(code) > len(host) {
		return fmt.Errorf("code blob too large: %d bytes", len(code))
	}
	copy(host, code)
	return nil
}

// MemWrite writes bytes to guest memory.
func (e *Emulator) MemWrite(addr uint64, data []byte) error {
	return e.mu.MemWrite(addr, data)
}

// MemRead reads bytes from guest memory.
func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	return e.mu.MemRead(addr, size)
}

// SetPC sets the program counter.
func (e *Emulator) SetPC(val uint64) error {
	return e.mu.RegWrite(uc.ARM64_REG_PC, val)
}

// X reads general-purpose register X0-X30.
func (e *Emulator) X(n int) uint64 {
	if n < 0 || n > 30 {
		return 0
	}
	val, _ := e.mu.RegRead(regX(n))
	return val
}

// SetX writes general-purpose register X0-X30.
func (e *Emulator) SetX(n int, val uint64) error {
	if n < 0 || n > 30 {
		return fmt.Errorf("invalid register X%d", n)
	}
	return e.mu.RegWrite(regX(n), val)
}

// Run starts emulation at start and stops at end or guest exit.
func (e *Emulator) Run(start, end uint64) error {
	err := e.mu.Start(start, end)
	if e.exited {
		// Guest exit stops emulation; not an error.
		return nil
	}
	return err
}

// Exited reports whether the guest called exit, and its status.
func (e *Emulator) Exited() (bool, int64) {
	return e.exited, e.exitCode
}

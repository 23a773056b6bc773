// Package probe assembles the instrumentation context: hook registry,
// scripting engine, dispatch bridge, coverage recorder and guest memory
// accessor, behind the entry points the emulator drives.
//
// One probe instruments one guest. There are no package-level singletons;
// the emulator holds the probe and passes events to it explicitly.
package probe

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zboralski/gavial/internal/arch"
	"github.com/zboralski/gavial/internal/coverage"
	"github.com/zboralski/gavial/internal/guest"
	"github.com/zboralski/gavial/internal/hooks"
	"github.com/zboralski/gavial/internal/log"
	"github.com/zboralski/gavial/internal/script"
	"github.com/zboralski/gavial/internal/syscalls"
)

// Config describes one instrumentation session.
type Config struct {
	// Arch selects the architecture profile (register projection + syscall
	// name table).
	Arch string
	// Script is the hook script path; empty disables syscall hooking.
	Script string
	// ScriptSource, when non-empty, is executed instead of reading Script
	// from disk. The Script value is then only used as the display name.
	ScriptSource string
	// Coverage enables the drcov recorder.
	Coverage bool
	// CoverageOutput is the output filename template ("" selects the
	// default name).
	CoverageOutput string
	// Translator provides guest->host address translation for the memory
	// accessor. Required when a script is configured.
	Translator guest.Translator
	Logger     *log.Logger
}

// Probe is the per-guest instrumentation context.
type Probe struct {
	session string
	profile string

	log    *log.Logger
	reg    *hooks.Registry
	engine *script.Engine
	disp   *hooks.Dispatcher
	cov    *coverage.Recorder
	mem    *guest.Memory

	shutOnce sync.Once
}

// unmapped is the translator used when the emulator provides none: every
// address fails.
type unmapped struct{}

func (unmapped) Host(uint64) []byte { return nil }
func (unmapped) StrLen(uint64) int  { return -1 }

// New constructs a probe. A missing or broken hook script, or a double
// coverage initialization, aborts startup before any guest code runs.
func New(cfg Config) (*Probe, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	p := &Probe{
		session: uuid.NewString(),
		profile: cfg.Arch,
	}
	p.log = logger.WithSession(p.session)

	tr := cfg.Translator
	if tr == nil {
		tr = unmapped{}
	}
	p.mem = guest.NewMemory(tr)
	p.reg = hooks.NewRegistry(syscalls.ForProfile(cfg.Arch), p.log)

	var bridge hooks.Bridge
	if cfg.Script != "" || cfg.ScriptSource != "" {
		engine, err := script.NewEngine(p.reg, p.mem, p.log)
		if err != nil {
			return nil, err
		}
		if cfg.ScriptSource != "" {
			err = engine.Load(cfg.Script, cfg.ScriptSource)
		} else {
			err = engine.LoadFile(cfg.Script)
		}
		if err != nil {
			return nil, err
		}
		p.engine = engine
		bridge = engine
	}
	p.disp = hooks.NewDispatcher(p.reg, bridge, p.log)

	p.cov = coverage.NewRecorder(p.log)
	if cfg.Coverage {
		if err := p.cov.Init(cfg.CoverageOutput); err != nil {
			return nil, fmt.Errorf("init coverage: %w", err)
		}
	}

	p.log.Info("probe armed",
		zap.String("arch", cfg.Arch),
		zap.String("script", cfg.Script),
		zap.Bool("coverage", cfg.Coverage),
	)
	return p, nil
}

// Session returns the probe's session id.
func (p *Probe) Session() string { return p.session }

// Registry returns the hook registry.
func (p *Probe) Registry() *hooks.Registry { return p.reg }

// Coverage returns the coverage recorder.
func (p *Probe) Coverage() *coverage.Recorder { return p.cov }

// Memory returns the guest memory accessor.
func (p *Probe) Memory() *guest.Memory { return p.mem }

// SetBinaryInfo forwards the traced binary's path, code range and entry
// point to the coverage recorder. Typically called once, after load, when
// the program name first becomes known.
func (p *Probe) SetBinaryInfo(path string, start, end, entry uint64) {
	p.cov.SetBinaryInfo(path, start, end, entry)
}

// OnBlockTranslated records one translated basic block.
func (p *Probe) OnBlockTranslated(pc uint64, size uint32) {
	p.cov.RecordBlock(pc, size)
}

// OnSyscallEntry projects the raw CPU state and runs pre-syscall dispatch.
func (p *Probe) OnSyscallEntry(num int, args [8]int64, st arch.State, binary string) (bool, hooks.Outcome) {
	return p.disp.PreDispatch(num, args, arch.Project(st), binary)
}

// OnSyscallExit runs post-syscall dispatch and returns the (possibly
// adjusted) return value.
func (p *Probe) OnSyscallExit(num int, ret int64, args [8]int64, st arch.State, binary string) int64 {
	return p.disp.PostDispatch(num, ret, args, arch.Project(st), binary)
}

// Shutdown disarms dispatch and flushes coverage. Idempotent.
func (p *Probe) Shutdown() {
	p.shutOnce.Do(func() {
		p.disp.Shutdown()
		p.cov.Shutdown()
		p.log.Info("probe shut down")
	})
}

package probe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zboralski/gavial/internal/arch"
	"github.com/zboralski/gavial/internal/hooks"
)

// sliceTranslator backs one guest region at 0x1000.
type sliceTranslator struct {
	buf []byte
}

func (t *sliceTranslator) Host(addr uint64) []byte {
	const base = 0x1000
	if addr < base || addr >= base+uint64(len(t.buf)) {
		return nil
	}
	return t.buf[addr-base:]
}

func (t *sliceTranslator) StrLen(addr uint64) int {
	host := t.Host(addr)
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

func arm64State(pc uint64, args [8]int64) arch.State {
	xregs := make([]uint64, 32)
	for i := 0; i < 8; i++ {
		xregs[i] = uint64(args[i])
	}
	xregs[31] = 0x7fff0000
	return arch.State{
		Profile: "arm64",
		Banks:   map[string][]uint64{"xregs": xregs},
		Special: map[string]uint64{"pc": pc},
	}
}

func TestProbeScriptDispatch(t *testing.T) {
	tr := &sliceTranslator{buf: []byte("/etc/passwd\x00")}
	p, err := New(Config{
		Arch:   "arm64",
		Script: "inline.js",
		ScriptSource: `
			register_pre_hook("openat", function(ctx) {
				if (read_string(ctx.args[1]) === "/etc/passwd") {
					ctx.ret = -13;
					return true;
				}
				return false;
			});
			register_post_hook("getpid", function(ctx, ret) {
				return 4242;
			});
		`,
		Translator: tr,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Shutdown()

	// openat("/etc/passwd") is denied by the hook.
	args := [8]int64{-100, 0x1000}
	invoked, out := p.OnSyscallEntry(56, args, arm64State(0x400000, args), "/bin/cat")
	if !invoked {
		t.Fatal("pre hook did not run")
	}
	if out.Action != hooks.Skip || out.Ret != -13 {
		t.Errorf("outcome = %+v, want Skip with -13", out)
	}

	// A different path passes through untouched.
	copy(tr.buf, "/tmp/ok\x00\x00\x00\x00\x00")
	invoked, out = p.OnSyscallEntry(56, args, arm64State(0x400000, args), "/bin/cat")
	if !invoked || out.Action != hooks.Continue {
		t.Errorf("outcome = (%v, %+v), want invoked Continue", invoked, out)
	}

	// getpid's return value is rewritten on exit.
	if got := p.OnSyscallExit(172, 77, [8]int64{}, arm64State(0x400004, [8]int64{}), "/bin/cat"); got != 4242 {
		t.Errorf("post-dispatch ret = %d, want 4242", got)
	}

	// No hook for write; both paths are pass-through.
	invoked, _ = p.OnSyscallEntry(64, args, arm64State(0x400008, args), "/bin/cat")
	if invoked {
		t.Error("pre hook ran for unhooked syscall")
	}
	if got := p.OnSyscallExit(64, 5, [8]int64{}, arm64State(0x40000c, [8]int64{}), "/bin/cat"); got != 5 {
		t.Errorf("unhooked exit ret = %d, want 5", got)
	}
}

func TestProbeBrokenScriptFailsStartup(t *testing.T) {
	_, err := New(Config{
		Arch:         "arm64",
		Script:       "inline.js",
		ScriptSource: `register_pre_hook("no_such_syscall", function() {});`,
	})
	if err == nil {
		t.Fatal("probe armed with a broken script")
	}
}

func TestProbeMissingScriptFileFailsStartup(t *testing.T) {
	_, err := New(Config{
		Arch:   "arm64",
		Script: filepath.Join(t.TempDir(), "missing.js"),
	})
	if err == nil {
		t.Fatal("probe armed with a missing script file")
	}
}

func TestProbeNoScriptUnarmed(t *testing.T) {
	p, err := New(Config{Arch: "arm64"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Shutdown()

	args := [8]int64{1, 2}
	invoked, out := p.OnSyscallEntry(64, args, arm64State(0x400000, args), "")
	if invoked || out.Action != hooks.Continue || out.Args != args {
		t.Errorf("scriptless dispatch = (%v, %+v), want pass-through", invoked, out)
	}
}

func TestProbeCoverage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "cov-%s.drcov")
	p, err := New(Config{
		Arch:           "arm64",
		Coverage:       true,
		CoverageOutput: out,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p.SetBinaryInfo("/bin/prog", 0x400000, 0x500000, 0x400000)
	p.OnBlockTranslated(0x400000, 16)
	p.OnBlockTranslated(0x400010, 8)
	p.OnBlockTranslated(0x400000, 16) // duplicate
	p.Shutdown()
	p.Shutdown() // idempotent

	path := filepath.Join(filepath.Dir(out), "cov-prog.drcov")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("coverage file missing: %v", err)
	}
	if !strings.Contains(string(data), "BB Table: 2 bbs") {
		t.Errorf("coverage file lacks the expected block count: %q", data)
	}
}

func TestProbeSessionIDs(t *testing.T) {
	a, err := New(Config{Arch: "arm64"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(Config{Arch: "arm64"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.Session() == "" || a.Session() == b.Session() {
		t.Errorf("sessions = %q, %q; want distinct non-empty ids", a.Session(), b.Session())
	}
	a.Shutdown()
	b.Shutdown()
}

func TestProbeDispatchAfterShutdown(t *testing.T) {
	p, err := New(Config{
		Arch:         "arm64",
		Script:       "inline.js",
		ScriptSource: `register_pre_hook(64, function(ctx) { ctx.ret = -1; return true; });`,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Shutdown()

	args := [8]int64{1}
	invoked, out := p.OnSyscallEntry(64, args, arm64State(0x400000, args), "")
	if invoked || out.Action != hooks.Continue {
		t.Errorf("dispatch after shutdown = (%v, %+v), want pass-through", invoked, out)
	}
}

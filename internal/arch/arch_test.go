package arch

import "testing"

func TestProjectARM64(t *testing.T) {
	xregs := make([]uint64, 32)
	for i := range xregs {
		xregs[i] = uint64(0x100 + i)
	}
	xregs[31] = 0x7fff0000 // SP slot

	snap := Project(State{
		Profile: "arm64",
		Banks:   map[string][]uint64{"xregs": xregs},
		Special: map[string]uint64{"pc": 0x401000},
	})

	if snap.PC != 0x401000 {
		t.Errorf("PC = 0x%x, want 0x401000", snap.PC)
	}
	if snap.SP != 0x7fff0000 {
		t.Errorf("SP = 0x%x, want 0x7fff0000", snap.SP)
	}
	bank := snap.Banks["xregs"]
	if len(bank) != 31 {
		t.Fatalf("xregs bank = %d entries, want 31 (sp slot excluded)", len(bank))
	}
	if bank[0] != 0x100 || bank[30] != 0x11e {
		t.Errorf("xregs = [0x%x .. 0x%x], want [0x100 .. 0x11e]", bank[0], bank[30])
	}
}

func TestProjectARM(t *testing.T) {
	regs := make([]uint64, 16)
	regs[13] = 0xbef00000 // sp
	regs[14] = 0x8100     // lr
	regs[15] = 0x8000     // pc

	snap := Project(State{
		Profile: "arm",
		Banks:   map[string][]uint64{"regs": regs},
	})

	if snap.PC != 0x8000 || snap.SP != 0xbef00000 {
		t.Errorf("pc/sp = 0x%x/0x%x", snap.PC, snap.SP)
	}
	if snap.Named["lr"] != 0x8100 {
		t.Errorf("lr = 0x%x, want 0x8100", snap.Named["lr"])
	}
}

func TestProjectX8664(t *testing.T) {
	regs := make([]uint64, 16)
	regs[4] = 0x7ffc0000 // rsp

	snap := Project(State{
		Profile: "x86_64",
		Banks:   map[string][]uint64{"regs": regs},
		Special: map[string]uint64{"pc": 0x401234},
	})

	if snap.PC != 0x401234 || snap.SP != 0x7ffc0000 {
		t.Errorf("pc/sp = 0x%x/0x%x", snap.PC, snap.SP)
	}
	if len(snap.Named) != 0 {
		t.Errorf("Named = %v, want none", snap.Named)
	}
}

func TestProjectSparcWindowedSP(t *testing.T) {
	snap := Project(State{
		Profile: "sparc",
		Banks:   map[string][]uint64{"gregs": make([]uint64, 8)},
		Special: map[string]uint64{"pc": 0x1000, "npc": 0x1004, "sp": 0xf000},
	})
	if snap.SP != 0xf000 {
		t.Errorf("SP = 0x%x, want window-resolved 0xf000", snap.SP)
	}
	if snap.Named["npc"] != 0x1004 {
		t.Errorf("npc = 0x%x, want 0x1004", snap.Named["npc"])
	}
}

func TestProjectM68kTwoBanks(t *testing.T) {
	dregs := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	aregs := []uint64{10, 20, 30, 40, 50, 60, 70, 0xa7a7}

	snap := Project(State{
		Profile: "m68k",
		Banks:   map[string][]uint64{"dregs": dregs, "aregs": aregs},
		Special: map[string]uint64{"pc": 0x2000},
	})
	if snap.SP != 0xa7a7 {
		t.Errorf("SP = 0x%x, want a7", snap.SP)
	}
	if len(snap.Banks) != 2 {
		t.Errorf("banks = %d, want dregs and aregs", len(snap.Banks))
	}
}

func TestProjectUnknownProfile(t *testing.T) {
	snap := Project(State{
		Profile: "z80",
		Special: map[string]uint64{"pc": 0x100, "sp": 0xfffe},
	})
	if snap.Profile != "z80" {
		t.Errorf("Profile = %q", snap.Profile)
	}
	if snap.PC != 0x100 || snap.SP != 0xfffe {
		t.Errorf("pc/sp = 0x%x/0x%x, want passthrough", snap.PC, snap.SP)
	}
	if snap.Banks != nil || snap.Named != nil {
		t.Error("unknown profile projected banks")
	}
}

func TestProjectShortBankPadded(t *testing.T) {
	// An undersized source bank projects zero-padded, never panics.
	snap := Project(State{
		Profile: "riscv64",
		Banks:   map[string][]uint64{"gpr": {0, 0x9000, 0x8000}},
		Special: map[string]uint64{"pc": 0x9000},
	})
	bank := snap.Banks["gpr"]
	if len(bank) != 32 {
		t.Fatalf("gpr bank = %d entries, want 32", len(bank))
	}
	if snap.SP != 0x8000 {
		t.Errorf("SP = 0x%x, want gpr[2]", snap.SP)
	}
	if bank[31] != 0 {
		t.Errorf("padding = 0x%x, want 0", bank[31])
	}
}

func TestProjectCopiesBanks(t *testing.T) {
	src := make([]uint64, 32)
	snap := Project(State{
		Profile: "riscv64",
		Banks:   map[string][]uint64{"gpr": src},
	})
	snap.Banks["gpr"][5] = 0xdead
	if src[5] != 0 {
		t.Error("snapshot bank aliases the raw state")
	}
}

func TestSupported(t *testing.T) {
	for _, p := range []string{"arm", "arm64", "x86_64", "riscv64", "s390x", "loongarch64"} {
		if !Supported(p) {
			t.Errorf("Supported(%q) = false", p)
		}
	}
	if Supported("z80") {
		t.Error("Supported(z80) = true")
	}
	if len(Profiles()) != 22 {
		t.Errorf("Profiles() = %d entries, want 22", len(Profiles()))
	}
}

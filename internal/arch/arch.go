// Package arch projects raw per-architecture register files into a canonical
// snapshot consumed by syscall hooks. The per-architecture knowledge lives in
// a closed descriptor table; one generic projector consumes it.
package arch

import "sort"

// State is the raw register file handed over by the emulator at an
// instrumentation point. Banks hold general-purpose register arrays keyed by
// the emulator's architectural name; Special holds out-of-band registers
// (program counter, window stack pointer, link registers) that are not part
// of any bank.
type State struct {
	Profile string
	Banks   map[string][]uint64
	Special map[string]uint64
}

// Snapshot is the canonical register view exposed to hooks. PC and SP are
// always present (zero when the profile is unknown); Named carries optional
// per-architecture scalars such as lr, pr and npc; Banks carries the
// general-purpose arrays under their conventional names.
type Snapshot struct {
	Profile string
	PC      uint64
	SP      uint64
	Named   map[string]uint64
	Banks   map[string][]uint64
}

// regRef locates a register inside a State: either a bank slot or a
// Special entry.
type regRef struct {
	bank  string
	index int
	key   string
}

func inBank(bank string, index int) regRef { return regRef{bank: bank, index: index} }
func special(key string) regRef            { return regRef{key: key} }

// bankSpec names a bank exposed in the snapshot and how many registers of it
// are architecturally visible.
type bankSpec struct {
	name  string
	count int
}

// descriptor describes one architecture profile.
type descriptor struct {
	banks []bankSpec
	pc    regRef
	sp    regRef
	named map[string]regRef
}

// profiles is the closed set of supported architecture descriptors. Bank and
// scalar names follow the conventional register-file naming of each target,
// which is also what hook scripts see in the cpu object.
var profiles = map[string]descriptor{
	"arm": {
		banks: []bankSpec{{"regs", 16}},
		pc:    inBank("regs", 15),
		sp:    inBank("regs", 13),
		named: map[string]regRef{"lr": inBank("regs", 14)},
	},
	"arm64": {
		// xregs[31] is the stack pointer; only x0-x30 are exposed as a bank.
		banks: []bankSpec{{"xregs", 31}},
		pc:    special("pc"),
		sp:    inBank("xregs", 31),
	},
	"alpha": {
		banks: []bankSpec{{"regs", 31}},
		pc:    special("pc"),
		sp:    inBank("regs", 30),
	},
	"hexagon": {
		banks: []bankSpec{{"gpr", 64}},
		pc:    inBank("gpr", 41),
		sp:    inBank("gpr", 29),
	},
	"hppa": {
		banks: []bankSpec{{"gr", 32}},
		pc:    special("pc"),
		sp:    inBank("gr", 30),
		named: map[string]regRef{"npc": special("npc")},
	},
	"i386": {
		banks: []bankSpec{{"regs", 8}},
		pc:    special("pc"),
		sp:    inBank("regs", 4),
	},
	"x86_64": {
		banks: []bankSpec{{"regs", 16}},
		pc:    special("pc"),
		sp:    inBank("regs", 4),
	},
	"m68k": {
		banks: []bankSpec{{"dregs", 8}, {"aregs", 8}},
		pc:    special("pc"),
		sp:    inBank("aregs", 7),
	},
	"microblaze": {
		banks: []bankSpec{{"regs", 32}},
		pc:    special("pc"),
		sp:    inBank("regs", 1),
	},
	"mips": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 29),
	},
	"mips64": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 29),
	},
	"openrisc": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 1),
	},
	"ppc": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 1),
		named: map[string]regRef{"lr": special("lr")},
	},
	"ppc64": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 1),
		named: map[string]regRef{"lr": special("lr")},
	},
	"riscv32": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 2),
	},
	"riscv64": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 2),
	},
	"s390x": {
		banks: []bankSpec{{"regs", 16}},
		pc:    special("pc"),
		sp:    inBank("regs", 15),
	},
	"sh4": {
		banks: []bankSpec{{"gregs", 24}},
		pc:    special("pc"),
		sp:    inBank("gregs", 15),
		named: map[string]regRef{"pr": special("pr")},
	},
	"sparc": {
		// The stack pointer lives in the current register window, which the
		// emulator resolves before handing over the state.
		banks: []bankSpec{{"gregs", 8}},
		pc:    special("pc"),
		sp:    special("sp"),
		named: map[string]regRef{"npc": special("npc")},
	},
	"sparc64": {
		banks: []bankSpec{{"gregs", 8}},
		pc:    special("pc"),
		sp:    special("sp"),
		named: map[string]regRef{"npc": special("npc")},
	},
	"xtensa": {
		banks: []bankSpec{{"regs", 16}},
		pc:    special("pc"),
		sp:    inBank("regs", 1),
	},
	"loongarch64": {
		banks: []bankSpec{{"gpr", 32}},
		pc:    special("pc"),
		sp:    inBank("gpr", 3),
	},
}

// Profiles returns the names of all supported architecture profiles, sorted.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether profile has a descriptor.
func Supported(profile string) bool {
	_, ok := profiles[profile]
	return ok
}

// Project maps a raw register file to its canonical snapshot. It is total:
// an unknown profile yields a minimal snapshot carrying whatever pc/sp the
// emulator supplied out of band, never an error.
func Project(s State) Snapshot {
	snap := Snapshot{Profile: s.Profile}

	d, ok := profiles[s.Profile]
	if !ok {
		snap.PC = s.Special["pc"]
		snap.SP = s.Special["sp"]
		return snap
	}

	snap.PC = readRef(s, d.pc)
	snap.SP = readRef(s, d.sp)

	if len(d.named) > 0 {
		snap.Named = make(map[string]uint64, len(d.named))
		for name, ref := range d.named {
			snap.Named[name] = readRef(s, ref)
		}
	}

	if len(d.banks) > 0 {
		snap.Banks = make(map[string][]uint64, len(d.banks))
		for _, b := range d.banks {
			src := s.Banks[b.name]
			n := b.count
			if len(src) < n {
				n = len(src)
			}
			out := make([]uint64, b.count)
			copy(out, src[:n])
			snap.Banks[b.name] = out
		}
	}

	return snap
}

func readRef(s State, ref regRef) uint64 {
	if ref.bank == "" {
		return s.Special[ref.key]
	}
	bank := s.Banks[ref.bank]
	if ref.index < 0 || ref.index >= len(bank) {
		return 0
	}
	return bank[ref.index]
}

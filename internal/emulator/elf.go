package emulator

import (
	"debug/elf"
	"fmt"
	"io"
)

// ELFInfo contains the loaded binary's metadata, in particular the
// executable code range and entry point fed to the coverage module table.
type ELFInfo struct {
	Path      string
	Entry     uint64
	CodeStart uint64
	CodeEnd   uint64
	BaseAddr  uint64
	EndAddr   uint64
}

// LoadELFBase is the load base for position-independent executables.
const LoadELFBase = 0x40000000

// LoadELF maps an ARM64 ELF executable into guest memory. Static binaries
// load at their link address; position-independent ones are relocated to
// LoadELFBase. No dynamic linking is performed.
func (e *Emulator) LoadELF(path string) (*ELFInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_AARCH64 {
		return nil, fmt.Errorf("expected ARM64 (EM_AARCH64), got %v", f.Machine)
	}

	fileBase := uint64(0xFFFFFFFFFFFFFFFF)
	fileEnd := uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr < fileBase {
			fileBase = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > fileEnd {
			fileEnd = end
		}
	}
	if fileBase == 0xFFFFFFFFFFFFFFFF {
		return nil, fmt.Errorf("no PT_LOAD segments found")
	}

	// Position-independent binaries link at (or near) zero and need a base.
	var reloc uint64
	if fileBase < 0x10000 {
		reloc = LoadELFBase - fileBase
	}

	info := &ELFInfo{
		Path:     path,
		Entry:    f.Entry + reloc,
		BaseAddr: fileBase + reloc,
		EndAddr:  fileEnd + reloc,
	}

	mapBase := alignDown(info.BaseAddr)
	mapEnd := alignUp(info.EndAddr)
	if err := e.MapRegion(mapBase, mapEnd-mapBase); err != nil {
		return nil, err
	}

	codeStart := uint64(0xFFFFFFFFFFFFFFFF)
	codeEnd := uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vaddr := prog.Vaddr + reloc
		host := e.Host(vaddr)
		if host == nil || uint64(len(host)) < prog.Filesz {
			return nil, fmt.Errorf("segment 0x%x not mapped", vaddr)
		}
		if _, err := io.ReadFull(prog.Open(), host[:prog.Filesz]); err != nil {
			return nil, fmt.Errorf("read segment 0x%x: %w", vaddr, err)
		}
		if prog.Flags&elf.PF_X != 0 {
			if vaddr < codeStart {
				codeStart = vaddr
			}
			if end := vaddr + prog.Memsz; end > codeEnd {
				codeEnd = end
			}
		}
	}
	if codeStart != 0xFFFFFFFFFFFFFFFF {
		info.CodeStart = codeStart
		info.CodeEnd = codeEnd
	}

	e.binary = path
	return info, nil
}

func alignDown(v uint64) uint64 { return v &^ uint64(pageSize-1) }

func alignUp(v uint64) uint64 { return (v + pageSize - 1) &^ uint64(pageSize-1) }

package tracee

import (
	"debug/elf"
	"fmt"
)

// This const is missing from debug/elf. glibc marks some of its loader
// entry points (and functions like memcpy) as indirect functions.
const sttGNUIFunc elf.SymType = 10

// SymbolInfo is one entry of a dynamic symbol table: the symbol name and
// its file-level virtual address.
type SymbolInfo struct {
	Name    string
	Address uint64
}

// ModuleSymbols holds the dynamic symbols of an object file together with
// the load bias, the lowest file-level virtual address of any loadable
// segment. The runtime address of a symbol is
// module base + symbol address - load bias.
type ModuleSymbols struct {
	SymbolInfos []SymbolInfo
	LoadBias    uint64
}

// ElfFile wraps an object file on disk for symbol extraction.
type ElfFile struct {
	path string
	file *elf.File
}

// OpenElf opens the object file at path.
func OpenElf(path string) (*ElfFile, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open object file %q: %v", path, err)
	}
	return &ElfFile{path: path, file: f}, nil
}

// Close closes the underlying file.
func (f *ElfFile) Close() error {
	return f.file.Close()
}

// Path returns the path the file was opened from.
func (f *ElfFile) Path() string {
	return f.path
}

// LoadSymbolsFromDynsym reads the dynamic symbol table. Only defined
// function symbols are returned; the full symbol table is not consulted.
func (f *ElfFile) LoadSymbolsFromDynsym() (*ModuleSymbols, error) {
	syms, err := f.file.DynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("could not read dynamic symbol table of %q: %v", f.path, err)
	}
	ms := &ModuleSymbols{LoadBias: f.loadBias()}
	for _, sym := range syms {
		if sym.Section == elf.SHN_UNDEF {
			continue
		}
		if t := elf.ST_TYPE(sym.Info); t != elf.STT_FUNC && t != sttGNUIFunc {
			continue
		}
		ms.SymbolInfos = append(ms.SymbolInfos, SymbolInfo{Name: sym.Name, Address: sym.Value})
	}
	return ms, nil
}

// loadBias returns the virtual address the object was linked at: the
// lowest vaddr of any loadable segment. Shared objects are usually linked
// at zero, prelinked or non-PIE files are not.
func (f *ElfFile) loadBias() uint64 {
	bias := uint64(0)
	found := false
	for _, prog := range f.file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if !found || prog.Vaddr < bias {
			bias = prog.Vaddr
			found = true
		}
	}
	return bias
}

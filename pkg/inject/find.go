package inject

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"

	"github.com/liblift/liblift/pkg/tracee"
)

// dynsymCache holds parsed dynamic symbol tables keyed by the on-disk
// path of the object file. Entries are invalidated when the file changes
// on disk.
var dynsymCache, _ = lru.New(16)

type dynsymCacheKey struct {
	path  string
	size  int64
	mtime int64
}

// FindFunctionAddress returns the absolute virtual address of a function
// in a module of the process identified by pid. modulePrefix selects the
// module; see matchModule for the naming pattern.
func FindFunctionAddress(pid int, functionName, modulePrefix string) (uint64, error) {
	modules, err := tracee.ReadModules(pid)
	if err != nil {
		return 0, err
	}

	moduleFilePath, moduleBaseAddress, err := matchModule(modules, modulePrefix, pid)
	if err != nil {
		return 0, err
	}

	syms, err := loadDynsym(moduleFilePath)
	if err != nil {
		return 0, err
	}

	for _, sym := range syms.SymbolInfos {
		if sym.Name == functionName {
			return sym.Address + moduleBaseAddress - syms.LoadBias, nil
		}
	}

	return 0, &SymbolNotFoundError{Symbol: functionName, Prefix: modulePrefix}
}

// findFunctionAddressWithFallback resolves function in module as
// FindFunctionAddress does but accepts a fallback symbol if the primary
// one cannot be resolved.
func findFunctionAddressWithFallback(pid int, function, module, fallbackFunction, fallbackModule string) (uint64, error) {
	address, primaryErr := FindFunctionAddress(pid, function, module)
	if primaryErr == nil {
		return address, nil
	}
	address, fallbackErr := FindFunctionAddress(pid, fallbackFunction, fallbackModule)
	if fallbackErr == nil {
		return address, nil
	}
	return 0, fmt.Errorf(
		"failed to load symbol %q from module %q with error: %q\nand also failed to load fallback symbol %q from module %q with error: %q",
		function, module, primaryErr, fallbackFunction, fallbackModule, fallbackErr)
}

// matchModule picks the module whose display name matches modulePrefix
// followed by any combination of `.`, `-` and digits and the letters `so`.
// For prefix `libc` this matches `libc-2.31.so`, `libc`, `libc1.so` but
// not `libc-something-3.14.so` or `i-am-not-libc-2.31.so`. If several
// modules match the last one in the list wins.
func matchModule(modules []tracee.Module, modulePrefix string, pid int) (string, uint64, error) {
	re, err := regexp.Compile("^" + modulePrefix + `[.\-0-9]*(so)*[.\-0-9]*$`)
	if err != nil {
		return "", 0, fmt.Errorf("invalid module prefix %q: %v", modulePrefix, err)
	}
	var moduleFilePath string
	var moduleBaseAddress uint64
	for _, m := range modules {
		if re.MatchString(m.Name) {
			moduleFilePath = m.FilePath
			moduleBaseAddress = m.AddressStart
		}
	}
	if moduleFilePath == "" {
		return "", 0, &ModuleNotFoundError{Prefix: modulePrefix, Pid: pid}
	}
	return moduleFilePath, moduleBaseAddress, nil
}

// loadDynsym parses the dynamic symbol table of the object file at path,
// consulting the cache first.
func loadDynsym(path string) (*tracee.ModuleSymbols, error) {
	key := dynsymCacheKey{path: path}
	if fi, err := os.Stat(path); err == nil {
		key.size = fi.Size()
		key.mtime = fi.ModTime().UnixNano()
		if cached, ok := dynsymCache.Get(key); ok {
			return cached.(*tracee.ModuleSymbols), nil
		}
	}

	elfFile, err := tracee.OpenElf(path)
	if err != nil {
		return nil, err
	}
	defer elfFile.Close()

	syms, err := elfFile.LoadSymbolsFromDynsym()
	if err != nil {
		return nil, err
	}
	dynsymCache.Add(key, syms)
	return syms, nil
}

// FindFunctionsWithPrefix returns the names of all functions exported by
// the module selected by modulePrefix whose name starts with symbolPrefix,
// sorted alphabetically. An empty symbolPrefix lists every exported
// function.
func FindFunctionsWithPrefix(pid int, modulePrefix, symbolPrefix string) ([]string, error) {
	modules, err := tracee.ReadModules(pid)
	if err != nil {
		return nil, err
	}
	moduleFilePath, _, err := matchModule(modules, modulePrefix, pid)
	if err != nil {
		return nil, err
	}
	syms, err := loadDynsym(moduleFilePath)
	if err != nil {
		return nil, err
	}

	names := trie.New()
	for _, sym := range syms.SymbolInfos {
		names.Add(sym.Name, sym.Address)
	}
	var matches []string
	if symbolPrefix == "" {
		matches = names.Keys()
	} else {
		matches = names.PrefixSearch(symbolPrefix)
	}
	sort.Strings(matches)
	return matches, nil
}

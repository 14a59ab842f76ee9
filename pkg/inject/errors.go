package inject

import "fmt"

// ModuleNotFoundError is returned when no module of the tracee matches the
// requested prefix.
type ModuleNotFoundError struct {
	Prefix string
	Pid    int
}

func (err *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("there is no module %q in process %d", err.Prefix, err.Pid)
}

// SymbolNotFoundError is returned when a matching module was found but its
// dynamic symbol table does not export the requested function.
type SymbolNotFoundError struct {
	Symbol string
	Prefix string
}

func (err *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("unable to locate function symbol %q in module %q", err.Symbol, err.Prefix)
}

package main

import (
	"os"
	"runtime"

	"github.com/liblift/liblift/cmd/liblift/cmds"
)

func main() {
	// Ptrace requires every request after PTRACE_ATTACH to come from the
	// thread that attached, so pin the main goroutine to its OS thread
	// before any command runs.
	runtime.LockOSThread()

	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}

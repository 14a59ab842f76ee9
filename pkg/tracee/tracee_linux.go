// Package tracee provides the low-level primitives used to manipulate a
// process stopped under ptrace: attaching, register snapshots, memory
// access, scratch memory allocation and module enumeration.
//
// Ptrace requests must be issued from the same operating system thread
// that attached to the tracee. Callers are expected to call
// runtime.LockOSThread before Attach and to keep every subsequent
// operation against that pid on the locked goroutine.
package tracee

import (
	"fmt"

	sys "golang.org/x/sys/unix"

	"github.com/liblift/liblift/pkg/logflags"
)

// Attach attaches to the process identified by pid and waits for it to
// enter the trace stop. Signals delivered to the tracee while we wait for
// the attach stop are re-injected.
func Attach(pid int) error {
	if err := sys.PtraceAttach(pid); err != nil {
		return fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	var status sys.WaitStatus
	for {
		wpid, err := sys.Wait4(pid, &status, 0, nil)
		if err != nil {
			sys.PtraceDetach(pid)
			return fmt.Errorf("error waiting for pid %d to stop: %v", pid, err)
		}
		if wpid != pid {
			continue
		}
		if status.Exited() {
			return fmt.Errorf("process %d exited while attaching", pid)
		}
		if status.Stopped() && status.StopSignal() == sys.SIGSTOP {
			logflags.TraceeLogger().Debugf("attached to pid %d", pid)
			return nil
		}
		if status.Stopped() {
			// Not our attach stop; deliver the pending signal and keep
			// waiting.
			if err := sys.PtraceCont(pid, int(status.StopSignal())); err != nil {
				sys.PtraceDetach(pid)
				return fmt.Errorf("error continuing pid %d past signal %v: %v", pid, status.StopSignal(), err)
			}
		}
	}
}

// Detach detaches from the process identified by pid and lets it resume
// execution.
func Detach(pid int) error {
	if err := sys.PtraceDetach(pid); err != nil {
		return fmt.Errorf("could not detach from pid %d: %v", pid, err)
	}
	logflags.TraceeLogger().Debugf("detached from pid %d", pid)
	return nil
}

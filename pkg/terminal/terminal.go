// Package terminal implements the interactive prompt entered by
// `liblift attach`. It is a thin command loop over pkg/inject and
// pkg/tracee for one attached process.
package terminal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/liblift/liblift/pkg/config"
	"github.com/liblift/liblift/pkg/logflags"
	"github.com/liblift/liblift/pkg/tracee"
)

const historyFile string = "history"

// Term represents the terminal running liblift.
type Term struct {
	pid      int
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	detached bool
}

// New returns a terminal attached to the process identified by pid.
func New(pid int, conf *config.Config) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	t := &Term{
		pid:    pid,
		conf:   conf,
		prompt: "(liblift) ",
		line:   liner.NewLiner(),
	}
	t.cmds = DebugCommands(conf)
	return t
}

// Close closes the terminal. The tracee is detached unless a command
// already did so.
func (t *Term) Close() {
	t.line.Close()
	if !t.detached {
		if err := tracee.Detach(t.pid); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		t.detached = true
	}
}

// Run begins the command loop and blocks until the user exits.
func (t *Term) Run() error {
	defer t.Close()

	t.line.SetCtrlCAborts(true)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err == nil {
		if f, err := os.Open(fullHistoryFile); err == nil {
			t.line.ReadHistory(f)
			f.Close()
		}
	}
	defer t.saveHistory(fullHistoryFile)

	fmt.Printf("Attached to process %d. Type 'help' for a list of commands.\n", t.pid)
	for {
		cmdstr, err := t.line.Prompt(t.prompt)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if err == liner.ErrPromptAborted {
				continue
			}
			return fmt.Errorf("prompt for input failed: %v", err)
		}
		cmdstr = strings.TrimSpace(cmdstr)
		if cmdstr == "" {
			continue
		}
		t.line.AppendHistory(cmdstr)

		err = t.cmds.Call(t, cmdstr)
		if err == errExitRequested {
			return nil
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
			logflags.TerminalLogger().Debugf("command %q failed: %v", cmdstr, err)
		}
		if t.detached {
			return nil
		}
	}
}

// saveHistory writes the session history back to the history file. liner
// has no history cap of its own so the cap from the config file is
// applied here.
func (t *Term) saveHistory(path string) {
	if path == "" {
		return
	}
	var buf bytes.Buffer
	if _, err := t.line.WriteHistory(&buf); err != nil {
		return
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if max := t.conf.MaxHistoryEntries; max != nil && *max >= 0 && len(lines) > *max {
		lines = lines[len(lines)-*max:]
	}
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	for _, line := range lines {
		fmt.Fprintln(f, line)
	}
}

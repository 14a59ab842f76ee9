package terminal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosiner/argv"

	"github.com/liblift/liblift/pkg/config"
	"github.com/liblift/liblift/pkg/inject"
	"github.com/liblift/liblift/pkg/tracee"
)

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the terminal.
type Commands struct {
	cmds []command
}

var errExitRequested = errors.New("exit")

// DebugCommands returns a Commands object with all the commands the
// terminal understands. Aliases from the configuration file are merged in.
func DebugCommands(conf *config.Config) *Commands {
	c := &Commands{}
	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: helpCommand, helpMsg: "Prints the help message."},
		{aliases: []string{"modules", "mods"}, cmdFn: modulesCommand, helpMsg: "Lists the modules loaded in the tracee."},
		{aliases: []string{"find"}, cmdFn: findCommand, helpMsg: "find <module> <function>. Resolves the runtime address of a function."},
		{aliases: []string{"disasm"}, cmdFn: disasmCommand, helpMsg: "disasm <module> <function> [n]. Shows the first n instructions of a function."},
		{aliases: []string{"symbols", "syms"}, cmdFn: symbolsCommand, helpMsg: "symbols <module> [prefix]. Lists exported functions of a module."},
		{aliases: []string{"dlopen"}, cmdFn: dlopenCommand, helpMsg: "dlopen <path> [flags]. Loads a shared library into the tracee."},
		{aliases: []string{"dlsym"}, cmdFn: dlsymCommand, helpMsg: "dlsym <handle> <symbol>. Resolves a symbol against a loaded handle."},
		{aliases: []string{"dlclose"}, cmdFn: dlcloseCommand, helpMsg: "dlclose <handle>. Unloads a library from the tracee."},
		{aliases: []string{"regs"}, cmdFn: regsCommand, helpMsg: "Prints the tracee's general purpose registers."},
		{aliases: []string{"detach"}, cmdFn: detachCommand, helpMsg: "Detaches from the tracee and exits."},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exits the terminal, detaching first."},
	}
	if conf != nil && conf.Aliases != nil {
		for i := range c.cmds {
			if aliases, ok := conf.Aliases[c.cmds[i].aliases[0]]; ok {
				c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
			}
		}
	}
	return c
}

// Call parses cmdstr and dispatches it to the matching command.
func (c *Commands) Call(t *Term, cmdstr string) error {
	vals, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in %q", s)
		},
		nil)
	if err != nil {
		return err
	}
	if len(vals) != 1 || len(vals[0]) == 0 {
		return fmt.Errorf("illegal command line %q", cmdstr)
	}
	args := vals[0]
	for _, cmd := range c.cmds {
		if cmd.match(args[0]) {
			return cmd.cmdFn(t, args[1:])
		}
	}
	return fmt.Errorf("command not available: %q", args[0])
}

func helpCommand(t *Term, args []string) error {
	fmt.Println("The following commands are available:")
	for _, cmd := range t.cmds.cmds {
		fmt.Printf("    %-18s %s\n", strings.Join(cmd.aliases, "|"), cmd.helpMsg)
	}
	return nil
}

func modulesCommand(t *Term, args []string) error {
	modules, err := tracee.ReadModules(t.pid)
	if err != nil {
		return err
	}
	for _, m := range modules {
		fmt.Printf("%#016x %s\n", m.AddressStart, m.FilePath)
	}
	return nil
}

func findCommand(t *Term, args []string) error {
	if len(args) != 2 {
		return errors.New("wrong number of arguments: find <module> <function>")
	}
	address, err := inject.FindFunctionAddress(t.pid, args[1], args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%#x\n", address)
	return nil
}

func disasmCommand(t *Term, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("wrong number of arguments: disasm <module> <function> [n]")
	}
	count := 8
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid instruction count %q", args[2])
		}
		count = n
	}
	address, err := inject.FindFunctionAddress(t.pid, args[1], args[0])
	if err != nil {
		return err
	}
	instructions, err := tracee.DisassembleAt(t.pid, address, count)
	for _, inst := range instructions {
		fmt.Printf("%#016x: %s\n", inst.Addr, inst.Text)
	}
	return err
}

func symbolsCommand(t *Term, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("wrong number of arguments: symbols <module> [prefix]")
	}
	prefix := ""
	if len(args) == 2 {
		prefix = args[1]
	}
	names, err := inject.FindFunctionsWithPrefix(t.pid, args[0], prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func dlopenCommand(t *Term, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("wrong number of arguments: dlopen <path> [flags]")
	}
	flagstr := t.conf.DefaultRTLDFlags
	if len(args) == 2 {
		flagstr = args[1]
	}
	if flagstr == "" {
		flagstr = "now"
	}
	flags, err := inject.ParseRTLDFlags(flagstr)
	if err != nil {
		return err
	}
	handle, err := inject.DlopenInTracee(t.pid, args[0], flags)
	if err != nil {
		return err
	}
	if handle == 0 {
		fmt.Println("dlopen returned a null handle; the loader rejected the library")
		return nil
	}
	fmt.Printf("handle: %#x\n", handle)
	return nil
}

func dlsymCommand(t *Term, args []string) error {
	if len(args) != 2 {
		return errors.New("wrong number of arguments: dlsym <handle> <symbol>")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	address, err := inject.DlsymInTracee(t.pid, handle, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%#x\n", address)
	return nil
}

func dlcloseCommand(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: dlclose <handle>")
	}
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	if err := inject.DlcloseInTracee(t.pid, handle); err != nil {
		return err
	}
	fmt.Println("closed")
	return nil
}

func regsCommand(t *Term, args []string) error {
	state, err := tracee.BackupRegisters(t.pid)
	if err != nil {
		return err
	}
	regs := state.Regs()
	fmt.Printf("rip = %#016x rsp = %#016x rbp = %#016x\n", regs.Rip, regs.Rsp, regs.Rbp)
	fmt.Printf("rax = %#016x rbx = %#016x rcx = %#016x rdx = %#016x\n", regs.Rax, regs.Rbx, regs.Rcx, regs.Rdx)
	fmt.Printf("rdi = %#016x rsi = %#016x r8  = %#016x r9  = %#016x\n", regs.Rdi, regs.Rsi, regs.R8, regs.R9)
	fmt.Printf("r10 = %#016x r11 = %#016x r12 = %#016x r13 = %#016x\n", regs.R10, regs.R11, regs.R12, regs.R13)
	fmt.Printf("r14 = %#016x r15 = %#016x\n", regs.R14, regs.R15)
	return nil
}

func detachCommand(t *Term, args []string) error {
	if err := tracee.Detach(t.pid); err != nil {
		return err
	}
	t.detached = true
	return nil
}

func exitCommand(t *Term, args []string) error {
	return errExitRequested
}

// parseHandle parses a handle or address argument; hexadecimal with a 0x
// prefix or decimal.
func parseHandle(s string) (uint64, error) {
	handle, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", s)
	}
	return handle, nil
}

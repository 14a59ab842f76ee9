// Package cmds implements the liblift command tree.
package cmds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liblift/liblift/pkg/config"
	"github.com/liblift/liblift/pkg/inject"
	"github.com/liblift/liblift/pkg/logflags"
	"github.com/liblift/liblift/pkg/terminal"
	"github.com/liblift/liblift/pkg/tracee"
	"github.com/liblift/liblift/pkg/version"
)

var (
	// pid is the process every subcommand operates on.
	pid int
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// noDetach leaves the tracee in the ptrace stop when the command is done.
	noDetach bool
	// rtldFlags is the loader flag set passed to dlopen.
	rtldFlags string
	// disasmCount is how many prologue instructions 'find' decodes.
	disasmCount int

	conf *config.Config
)

const libliftCommandLongDesc = `Liblift loads, queries and unloads shared libraries inside a running
process without its cooperation.

It attaches to the target with ptrace, resolves the process's own dynamic
linker entry points, runs short injected code stubs that call them, and
restores the process to the exact state it was found in. Linux/x86-64 only.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "liblift",
		Short: "Liblift injects shared libraries into running processes.",
		Long:  libliftCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(log, logOutput, logDest)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}
	rootCommand.PersistentFlags().IntVarP(&pid, "pid", "p", 0, "Pid of the target process.")
	rootCommand.PersistentFlags().BoolVar(&noDetach, "no-detach", false, "Leave the target stopped under ptrace when the command is done.")
	addLogFlags(rootCommand.PersistentFlags())

	// 'inject' subcommand.
	injectCommand := &cobra.Command{
		Use:   "inject <path to .so>",
		Short: "Load a shared library into the target process.",
		Long: `Load a shared library into the target process by running dlopen inside it.

Prints the loader handle on success. A handle of 0 means the target's own
loader rejected the library (wrong architecture, missing file, unresolved
dependencies); the loader's error text stays inside the target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracee(func(pid int) error {
				flags, err := rtldFlagsFromConfig()
				if err != nil {
					return err
				}
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				handle, err := inject.DlopenInTracee(pid, path, flags)
				if err != nil {
					return err
				}
				fmt.Printf("%#x\n", handle)
				return nil
			})
		},
	}
	injectCommand.Flags().StringVar(&rtldFlags, "flags", "", `Loader flags for dlopen, e.g. "now" or "lazy,global".`)
	rootCommand.AddCommand(injectCommand)

	// 'call' subcommand.
	callCommand := &cobra.Command{
		Use:   "call <path to .so> <symbol>",
		Short: "Load a shared library and resolve a symbol from it.",
		Long: `Load a shared library into the target process and resolve a symbol against
the returned handle, printing the symbol's address in the target.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracee(func(pid int) error {
				flags, err := rtldFlagsFromConfig()
				if err != nil {
					return err
				}
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				handle, err := inject.DlopenInTracee(pid, path, flags)
				if err != nil {
					return err
				}
				if handle == 0 {
					return fmt.Errorf("the loader of process %d rejected %q", pid, path)
				}
				address, err := inject.DlsymInTracee(pid, handle, args[1])
				if err != nil {
					return err
				}
				fmt.Printf("handle: %#x\n%s: %#x\n", handle, args[1], address)
				return nil
			})
		},
	}
	callCommand.Flags().StringVar(&rtldFlags, "flags", "", `Loader flags for dlopen, e.g. "now" or "lazy,global".`)
	rootCommand.AddCommand(callCommand)

	// 'eject' subcommand.
	ejectCommand := &cobra.Command{
		Use:   "eject <handle>",
		Short: "Unload a previously injected library from the target process.",
		Long: `Drop the reference a handle from a previous 'inject' holds by running
dlclose inside the target process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid handle %q", args[0])
			}
			return withTracee(func(pid int) error {
				return inject.DlcloseInTracee(pid, handle)
			})
		},
	}
	rootCommand.AddCommand(ejectCommand)

	// 'find' subcommand.
	findCommand := &cobra.Command{
		Use:   "find <module> <function>",
		Short: "Resolve the runtime address of a function in the target process.",
		Long: `Resolve the absolute runtime address of a function exported by a module
loaded in the target process. The module is named by prefix: "libc"
matches "libc-2.31.so" and "libc.so.6" but not "libcrypto.so.1".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracee(func(pid int) error {
				address, err := inject.FindFunctionAddress(pid, args[1], args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%#x\n", address)
				if disasmCount > 0 {
					instructions, err := tracee.DisassembleAt(pid, address, disasmCount)
					for _, inst := range instructions {
						fmt.Printf("%#016x: %s\n", inst.Addr, inst.Text)
					}
					return err
				}
				return nil
			})
		},
	}
	findCommand.Flags().IntVar(&disasmCount, "disasm", 0, "Also decode the first n instructions at the resolved address.")
	rootCommand.AddCommand(findCommand)

	// 'modules' subcommand.
	modulesCommand := &cobra.Command{
		Use:   "modules",
		Short: "List the modules loaded in the target process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracee(func(pid int) error {
				modules, err := tracee.ReadModules(pid)
				if err != nil {
					return err
				}
				for _, m := range modules {
					fmt.Printf("%#016x %s\n", m.AddressStart, m.FilePath)
				}
				return nil
			})
		},
	}
	rootCommand.AddCommand(modulesCommand)

	// 'symbols' subcommand.
	symbolsCommand := &cobra.Command{
		Use:   "symbols <module> [prefix]",
		Short: "List the functions a module of the target process exports.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracee(func(pid int) error {
				prefix := ""
				if len(args) == 2 {
					prefix = args[1]
				}
				names, err := inject.FindFunctionsWithPrefix(pid, args[0], prefix)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Println(name)
				}
				return nil
			})
		},
	}
	rootCommand.AddCommand(symbolsCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach",
		Short: "Attach to the target process and enter an interactive prompt.",
		Long: `Attach to the target process and enter an interactive prompt with the
other subcommands available as prompt commands. The target stays stopped
for the whole session and resumes on detach.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid <= 0 {
				return errors.New("you must provide a pid with --pid")
			}
			if err := tracee.Attach(pid); err != nil {
				return err
			}
			return terminal.New(pid, conf).Run()
		},
	}
	rootCommand.AddCommand(attachCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration file in effect.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigFilePath("config.yml")
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n", path)
			fmt.Printf("default-rtld-flags: %q\n", conf.DefaultRTLDFlags)
			for cmdName, aliases := range conf.Aliases {
				fmt.Printf("alias %s: %v\n", cmdName, aliases)
			}
			if conf.MaxHistoryEntries != nil {
				fmt.Printf("max-history-entries: %d\n", *conf.MaxHistoryEntries)
			}
			return nil
		},
	}
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Liblift Injector\n%s\n", version.LibliftVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func addLogFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&log, "log", "", false, "Enable debug logging.")
	fs.StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (tracee, inject, terminal).")
	fs.StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
}

// rtldFlagsFromConfig resolves the loader flag set: the --flags value if
// given, the configuration file default otherwise, RTLD_NOW as a last
// resort.
func rtldFlagsFromConfig() (uint32, error) {
	s := rtldFlags
	if s == "" {
		s = conf.DefaultRTLDFlags
	}
	if s == "" {
		s = "now"
	}
	return inject.ParseRTLDFlags(s)
}

// withTracee attaches to the process named by --pid, runs fn against it
// and detaches again, resuming the process. With --no-detach the process
// is left in the ptrace stop for another controller to adopt.
func withTracee(fn func(pid int) error) error {
	if pid <= 0 {
		return errors.New("you must provide a pid with --pid")
	}
	if err := tracee.Attach(pid); err != nil {
		return err
	}
	fnErr := fn(pid)
	if noDetach {
		return fnErr
	}
	if err := tracee.Detach(pid); err != nil {
		if fnErr != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return fnErr
		}
		return err
	}
	return fnErr
}

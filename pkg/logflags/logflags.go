// Package logflags maps command line flags to the loggers used by the
// rest of liblift. Each layer gets its own logrus logger that is silent
// unless the corresponding component was named in --log-output.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	tracee   = false
	inject   = false
	terminal = false
)

var logOut io.WriteCloser

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	// Colors only when logging to a terminal, never to a file or pipe.
	colors := logOut == nil && isatty.IsTerminal(os.Stderr.Fd())
	logger.Logger.Formatter = &logrus.TextFormatter{DisableColors: !colors}
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = os.Stderr
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return logger
}

// Tracee returns true if the tracee package should log its ptrace and
// memory traffic.
func Tracee() bool {
	return tracee
}

// TraceeLogger returns a logger for the tracee package.
func TraceeLogger() *logrus.Entry {
	return makeLogger(tracee, logrus.Fields{"layer": "tracee"})
}

// Inject returns true if the inject package should log.
func Inject() bool {
	return inject
}

// InjectLogger returns a logger for the inject package.
func InjectLogger() *logrus.Entry {
	return makeLogger(inject, logrus.Fields{"layer": "inject"})
}

// Terminal returns true if the interactive terminal should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal package.
func TerminalLogger() *logrus.Entry {
	return makeLogger(terminal, logrus.Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. If logDest
// is not empty logs are redirected to the file descriptor or file path it
// contains.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "liblift-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "inject"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "tracee":
			tracee = true
		case "inject":
			inject = true
		case "terminal":
			terminal = true
		default:
			return fmt.Errorf("invalid log output argument %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

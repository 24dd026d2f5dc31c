// Package elog provides the logging surface shared across this module's
// packages, trimmed from vorteil's pkg/elog: the Logger interface and a
// logrus-backed CLI implementation survive; the mpb-based progress-bar
// machinery does not, since nothing in this module runs long enough to
// need one (see DESIGN.md).
package elog

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Logger is an interface that has the ability to hide debug/info output
// depending on verbosity settings.
type Logger interface {
	Debugf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Printf(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	IsInfoEnabled() bool
	IsDebugEnabled() bool
}

// CLI is a generic Logger implementation for terminal output, backed by
// logrus and colorized via fatih/color when attached to a TTY.
type CLI struct {
	DisableColors bool
	IsDebug       bool
	IsVerbose     bool
}

func (log *CLI) useColor() bool {
	return !log.DisableColors && isatty.IsTerminal(os.Stdout.Fd())
}

func (log *CLI) Debugf(format string, x ...interface{}) {
	if log.IsDebug {
		logrus.Tracef(format, x...)
	}
}

func (log *CLI) Errorf(format string, x ...interface{}) {
	if log.useColor() {
		format = color.RedString(format)
	}
	logrus.Errorf(format, x...)
}

func (log *CLI) Infof(format string, x ...interface{}) {
	if log.IsVerbose {
		logrus.Debugf(format, x...)
	}
}

func (log *CLI) Printf(format string, x ...interface{}) {
	logrus.Printf(format, x...)
}

func (log *CLI) Warnf(format string, x ...interface{}) {
	if log.useColor() {
		format = color.YellowString(format)
	}
	logrus.Warnf(format, x...)
}

func (log *CLI) IsInfoEnabled() bool {
	return logrus.IsLevelEnabled(logrus.InfoLevel)
}

func (log *CLI) IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

// nop is a Logger that discards everything.
type nop struct{}

func (nop) Debugf(string, ...interface{}) {}
func (nop) Errorf(string, ...interface{}) {}
func (nop) Infof(string, ...interface{})  {}
func (nop) Printf(string, ...interface{}) {}
func (nop) Warnf(string, ...interface{})  {}
func (nop) IsInfoEnabled() bool           { return false }
func (nop) IsDebugEnabled() bool          { return false }

// Nop is a Logger that discards all output.
var Nop Logger = nop{}

// OrNop returns log if non-nil, or Nop otherwise. Packages across this
// module use it so a nil elog.Logger argument is always legal.
func OrNop(log Logger) Logger {
	if log == nil {
		return Nop
	}
	return log
}

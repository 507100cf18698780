// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log provides a simple way of logging with different severity
// levels. Time/Date are not logged by default because the process
// supervisor (systemd, a container runtime, ...) usually timestamps
// stdout/stderr for us; SetDateTime (driven by the log-date
// configuration option) enables it.
//
// Uses these prefixes: https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]    "
	InfoPrefix  string = "<6>[INFO]     "
	WarnPrefix  string = "<4>[WARNING]  "
	ErrPrefix   string = "<3>[ERROR]    "
	CritPrefix  string = "<2>[CRITICAL] "
)

var (
	DebugLog *log.Logger = log.New(DebugWriter, DebugPrefix, 0)
	InfoLog  *log.Logger = log.New(InfoWriter, InfoPrefix, 0)
	WarnLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	ErrLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.Llongfile)
	CritLog  *log.Logger = log.New(CritWriter, CritPrefix, log.Llongfile)

	DebugTimeLog *log.Logger = log.New(DebugWriter, DebugPrefix, log.LstdFlags)
	InfoTimeLog  *log.Logger = log.New(InfoWriter, InfoPrefix, log.LstdFlags)
	WarnTimeLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.LstdFlags|log.Lshortfile)
	ErrTimeLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.LstdFlags|log.Llongfile)
	CritTimeLog  *log.Logger = log.New(CritWriter, CritPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel silences all log levels below lvl by redirecting their
// writers to io.Discard. Valid values: "debug", "info", "warn", "err"/"fatal", "crit".
func SetLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
		// nothing to discard
	default:
		fmt.Printf("pkg/log: invalid loglevel %q, using \"debug\"\n", lvl)
		SetLevel("debug")
	}
}

func SetDateTime(on bool) {
	logDateTime = on
}

func Debug(v ...interface{}) { output(DebugWriter, DebugLog, DebugTimeLog, fmt.Sprint(v...)) }
func Info(v ...interface{})  { output(InfoWriter, InfoLog, InfoTimeLog, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { output(WarnWriter, WarnLog, WarnTimeLog, fmt.Sprint(v...)) }
func Error(v ...interface{}) { output(ErrWriter, ErrLog, ErrTimeLog, fmt.Sprint(v...)) }
func Crit(v ...interface{})  { output(CritWriter, CritLog, CritTimeLog, fmt.Sprint(v...)) }

func Debugf(format string, v ...interface{}) {
	output(DebugWriter, DebugLog, DebugTimeLog, fmt.Sprintf(format, v...))
}
func Infof(format string, v ...interface{}) {
	output(InfoWriter, InfoLog, InfoTimeLog, fmt.Sprintf(format, v...))
}
func Warnf(format string, v ...interface{}) {
	output(WarnWriter, WarnLog, WarnTimeLog, fmt.Sprintf(format, v...))
}
func Errorf(format string, v ...interface{}) {
	output(ErrWriter, ErrLog, ErrTimeLog, fmt.Sprintf(format, v...))
}
func Critf(format string, v ...interface{}) {
	output(CritWriter, CritLog, CritTimeLog, fmt.Sprintf(format, v...))
}

// Fatal writes an error log entry and terminates the process with exit code 1.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}

func output(w io.Writer, plain, timed *log.Logger, msg string) {
	if w == io.Discard {
		return
	}
	if logDateTime {
		timed.Output(3, msg)
	} else {
		plain.Output(3, msg)
	}
}

// Tagged console logging
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package syslog wraps the standard library logger with the
// "[tag] message" convention used throughout the gateway's console
// output, matching original_source's net_demo.c log lines.
package syslog

import (
	"log"
	"os"
)

// Logger writes tagged lines to a single underlying destination.
type Logger struct {
	tag string
	l   *log.Logger
}

// std is the default Logger, writing to stdout with no timestamp prefix
// (the UART console has no use for wall-clock time this runtime never
// has access to).
var std = log.New(os.Stdout, "", 0)

// New returns a Logger that prefixes every line with "[tag] ".
func New(tag string) *Logger {
	return &Logger{tag: tag, l: std}
}

func (lg *Logger) Printf(format string, v ...interface{}) {
	lg.l.Printf("["+lg.tag+"] "+format, v...)
}

func (lg *Logger) Println(v ...interface{}) {
	args := append([]interface{}{"[" + lg.tag + "]"}, v...)
	lg.l.Println(args...)
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command measure-agent is the standalone driver for local single-process
// runs and test harnesses. It carries no adapter of its own (paradigm
// bindings are out of scope for this core); the "selftest" subcommand
// drives one location through a canned enter/exit sequence and prints the
// resulting call tree as JSON, so the core's wiring can be exercised
// without a real instrumented program attached.
package main

import (
	"flag"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	zapcore "go.uber.org/zap"

	"github.com/parascope/runtime/pkg/config"
)

var setupLog logr.Logger

func main() {
	if len(os.Args) > 1 && os.Args[1] == "selftest" {
		runSelfTest(os.Args[2:])
		return
	}

	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()
	setupLog = newLogger(*verbose)

	var cfg config.RuntimeConfig
	cfg.ApplyDefaults(func(msg string) { setupLog.Info(msg) })

	setupLog.Info("measure-agent has no adapter wired into this binary; run with the \"selftest\" subcommand to exercise the core")
}

func newLogger(verbose bool) logr.Logger {
	if verbose {
		zapLog, _ := zapcore.NewDevelopment()
		return zapr.NewLogger(zapLog)
	}
	return logr.Discard()
}

func fail(log logr.Logger, err error, msg string) {
	log.Error(err, msg)
	os.Exit(1)
}

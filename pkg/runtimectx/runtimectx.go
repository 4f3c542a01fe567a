// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package runtimectx implements the core's top-level finalizer described in
// spec.md §7: the single place a FatalError (out-of-memory, inconsistent
// profile, invalid handle, IPC failure) is turned into the runtime's
// user-visible failure behavior — a stderr message, an optional diagnostic
// dump, and a non-zero exit.
package runtimectx

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/config"
)

// packageName is the bracketed tag spec.md §7 requires on the stderr line:
// "[PACKAGE] <message>".
const packageName = "scorepgo"

// exit is os.Exit, indirected so tests can observe an abort without ending
// the test binary.
var exit = os.Exit

// SetExitForTest overrides the exit hook Abort calls. It exists only for
// this package's own tests; production callers never need it.
func SetExitForTest(fn func(int)) {
	exit = fn
}

// Context carries what Abort needs to identify the failing process in its
// diagnostic output: the experiment directory a core-file dump is written
// into, and the rank/thread coordinates spec.md §7's core-file name embeds.
type Context struct {
	Log      logr.Logger
	Config   config.RuntimeConfig
	Dir      string
	BaseName string
	Rank     int
	ThreadID int
}

// New returns a Context for the given experiment directory, rank, and
// thread. baseName is the stem spec.md §7's core-file name is built from
// (typically the measurement run's name); dir is the experiment directory
// the optional core file is written into.
func New(log logr.Logger, cfg config.RuntimeConfig, dir, baseName string, rank, threadID int) *Context {
	return &Context{Log: log, Config: cfg, Dir: dir, BaseName: baseName, Rank: rank, ThreadID: threadID}
}

// Abort implements spec.md §7's user-visible failure behavior: it prints
// "[PACKAGE] <message>" to stderr, logs the error through the registered
// log stream, optionally writes a best-effort diagnostic core-file dump of
// loc's call-tree stack (gated by c.Config.CoreFileDump), and exits with a
// non-zero status. It never returns — callers that need a return for
// control-flow analysis should treat it like os.Exit.
//
// loc may be nil when the failure isn't tied to a single location's
// call-tree node (an IPC failure detected before any location registered,
// for instance); the core-file dump is skipped in that case.
func (c *Context) Abort(err error, loc *calltree.Node) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", packageName, err)
	c.Log.Error(err, "aborting measurement")

	if c.Config.CoreFileDump {
		if dumpErr := c.dumpCoreFile(err, loc); dumpErr != nil {
			c.Log.Error(dumpErr, "failed to write core file dump")
		}
	}

	exit(1)
}

// corePath returns the core-file name spec.md §7 specifies:
// <basename>.<rank>.<thread>.core, joined under c.Dir.
func (c *Context) corePath() string {
	name := fmt.Sprintf("%s.%d.%d.core", c.BaseName, c.Rank, c.ThreadID)
	if c.Dir == "" {
		return name
	}
	return c.Dir + string(os.PathSeparator) + name
}

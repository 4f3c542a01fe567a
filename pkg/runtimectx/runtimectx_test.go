// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package runtimectx_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parascope/runtime/pkg/calltree"
	"github.com/parascope/runtime/pkg/config"
	"github.com/parascope/runtime/pkg/definitions"
	"github.com/parascope/runtime/pkg/runtimectx"
)

// withFakeExit swaps runtimectx's exit hook for one that records the status
// and panics to unwind the call to Abort, the same way a real os.Exit would
// never return to its caller. The test recovers the panic and asserts on the
// recorded status.
func withFakeExit(t *testing.T) *int {
	t.Helper()
	var status int
	called := false
	runtimectx.SetExitForTest(func(code int) {
		status = code
		called = true
		panic("runtimectx: fake exit")
	})
	t.Cleanup(func() { runtimectx.SetExitForTest(os.Exit) })
	t.Cleanup(func() {
		if !called {
			t.Errorf("expected Abort to call exit")
		}
	})
	return &status
}

func TestAbortCallsExitWithNonZeroStatus(t *testing.T) {
	status := withFakeExit(t)
	ctx := runtimectx.New(logr.Discard(), config.RuntimeConfig{}, t.TempDir(), "run", 0, 0)

	assert.PanicsWithValue(t, "runtimectx: fake exit", func() {
		ctx.Abort(errors.New("boom"), nil)
	})
	assert.Equal(t, 1, *status)
}

func TestAbortSkipsCoreFileWhenDumpDisabled(t *testing.T) {
	withFakeExit(t)
	dir := t.TempDir()
	ctx := runtimectx.New(logr.Discard(), config.RuntimeConfig{CoreFileDump: false}, dir, "run", 2, 3)

	assert.Panics(t, func() {
		ctx.Abort(errors.New("boom"), nil)
	})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAbortWritesCoreFileWhenDumpEnabled(t *testing.T) {
	withFakeExit(t)
	dir := t.TempDir()
	ctx := runtimectx.New(logr.Discard(), config.RuntimeConfig{CoreFileDump: true}, dir, "run", 2, 3)

	tree := calltree.NewTree()
	child := tree.NewNode(calltree.KindRegion, calltree.Payload{Region: definitions.Handle{Type: definitions.KindRegion}})
	tree.AddChild(tree.Root, child)

	assert.Panics(t, func() {
		ctx.Abort(errors.New("inconsistent profile"), child)
	})

	want := filepath.Join(dir, "run.2.3.core")
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "inconsistent profile")
	assert.Contains(t, string(data), "rank: 2 thread: 3")
}

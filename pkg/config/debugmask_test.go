// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config_test

import (
	"testing"

	"github.com/parascope/runtime/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDebugMaskModuleNames(t *testing.T) {
	mask, ok := config.ParseDebugMask("unify,event", nil)
	require.True(t, ok)
	assert.Equal(t, config.DebugUnify|config.DebugEvent, mask)
}

func TestParseDebugMaskSemicolonAndSpaceSeparators(t *testing.T) {
	mask, ok := config.ParseDebugMask("unify; event task", nil)
	require.True(t, ok)
	assert.Equal(t, config.DebugUnify|config.DebugEvent|config.DebugTask, mask)
}

func TestParseDebugMaskAllAndNegation(t *testing.T) {
	mask, ok := config.ParseDebugMask("all,~unify", nil)
	require.True(t, ok)
	assert.Equal(t, config.DebugAll&^config.DebugUnify, mask)
	assert.NotZero(t, mask&config.DebugEvent)
	assert.Zero(t, mask&config.DebugUnify)
}

func TestParseDebugMaskNumericLiterals(t *testing.T) {
	mask, ok := config.ParseDebugMask("0x3", nil)
	require.True(t, ok)
	assert.Equal(t, config.DebugModule(0x3), mask)

	mask, ok = config.ParseDebugMask("0b101", nil)
	require.True(t, ok)
	assert.Equal(t, config.DebugModule(0b101), mask)
}

func TestParseDebugMaskUnknownModuleDisablesFeature(t *testing.T) {
	var warned string
	mask, ok := config.ParseDebugMask("nope", func(msg string) { warned = msg })
	assert.False(t, ok)
	assert.Zero(t, mask)
	assert.Contains(t, warned, "nope")
}

func TestParseDebugMaskOverflowDisablesFeature(t *testing.T) {
	var warned string
	mask, ok := config.ParseDebugMask("99999999999999999999", func(msg string) { warned = msg })
	assert.False(t, ok)
	assert.Zero(t, mask)
	assert.NotEmpty(t, warned)
}

func TestParseDebugMaskCaseInsensitiveModuleNames(t *testing.T) {
	mask, ok := config.ParseDebugMask("UNIFY", nil)
	require.True(t, ok)
	assert.Equal(t, config.DebugUnify, mask)
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"strconv"
	"strings"

	"github.com/parascope/runtime/pkg/errors"
)

// DebugModule is a bit-field selecting which packages print debug output,
// per spec.md §6: "bit-field selecting debug modules". One bit per package
// named in SPEC_FULL.md §2's component list.
type DebugModule uint64

const (
	DebugAlloc DebugModule = 1 << iota
	DebugDefinitions
	DebugCallTree
	DebugTask
	DebugEvent
	DebugPostprocess
	DebugIPC
	DebugUnify
	DebugOutput
)

// DebugAll is every known module bit, what the "all" token in a debug spec
// expands to.
const DebugAll = DebugAlloc | DebugDefinitions | DebugCallTree | DebugTask |
	DebugEvent | DebugPostprocess | DebugIPC | DebugUnify | DebugOutput

var debugModuleNames = map[string]DebugModule{
	"alloc":       DebugAlloc,
	"definitions": DebugDefinitions,
	"calltree":    DebugCallTree,
	"task":        DebugTask,
	"event":       DebugEvent,
	"postprocess": DebugPostprocess,
	"ipc":         DebugIPC,
	"unify":       DebugUnify,
	"output":      DebugOutput,
}

// ParseDebugMask parses spec per spec.md §6: a comma/semicolon/space
// separated list of module names, "all", or numeric masks with optional
// leading "~" negation and "0x"/"0b" prefixes (hex/binary literals beyond
// those two bases are not part of the grammar; strconv's base-0 parsing is
// used since it already accepts exactly the 0x/0b/decimal forms spec.md
// names). A malformed token or an overflowing numeric literal is a non-fatal
// warning (spec.md §7): warn is called with a description and ParseDebugMask
// returns (0, false) to signal the whole feature is disabled, matching
// spec.md §6's "feature is disabled" resolution rather than silently
// dropping just the bad token.
func ParseDebugMask(spec string, warn func(string)) (DebugModule, bool) {
	var mask DebugModule
	for _, tok := range strings.FieldsFunc(spec, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	}) {
		negate := false
		if strings.HasPrefix(tok, "~") {
			negate = true
			tok = tok[1:]
		}
		if tok == "" {
			if warn != nil {
				warn("config: empty module token in debug spec " + strconv.Quote(spec))
			}
			return 0, false
		}

		value, err := parseDebugToken(tok)
		if err != nil {
			if warn != nil {
				warn("config: " + err.Error())
			}
			return 0, false
		}

		if negate {
			mask &^= value
		} else {
			mask |= value
		}
	}
	return mask, true
}

func parseDebugToken(tok string) (DebugModule, error) {
	lower := strings.ToLower(tok)
	if lower == "all" {
		return DebugAll, nil
	}
	if m, ok := debugModuleNames[lower]; ok {
		return m, nil
	}
	if isNumericToken(tok) {
		n, err := strconv.ParseUint(tok, 0, 64)
		if err != nil {
			return 0, overflowOrSyntaxError(tok, err)
		}
		return DebugModule(n), nil
	}
	return 0, unknownModuleError(tok)
}

func isNumericToken(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c >= '0' && c <= '9'
}

func overflowOrSyntaxError(tok string, err error) error {
	return errors.New("malformed or overflowing numeric debug mask literal " + strconv.Quote(tok) + ": " + err.Error())
}

func unknownModuleError(tok string) error {
	return errors.New("unknown debug module name " + strconv.Quote(tok))
}

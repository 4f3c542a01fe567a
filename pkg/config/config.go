// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config holds the runtime's own configuration, following the
// teacher's CollectionConfig/ApplyDefaults pattern: zero-value fields are
// defaulted, and SCOREPGO_* environment variables override them the way the
// teacher's HOST_PROC/HOST_SYS/HOST_DEV overrides do.
package config

import (
	"os"
	"time"
)

const (
	envDebugMask     = "SCOREPGO_DEBUG"
	envCoreFileDump  = "SCOREPGO_CORE_FILE_DUMP"
	envFlushInterval = "SCOREPGO_OUTPUT_FLUSH_INTERVAL"
)

// RuntimeConfig holds the core's own tunables, as distinct from an
// adapter's paradigm-specific configuration (spec.md §1 leaves adapters out
// of scope).
type RuntimeConfig struct {
	// DebugMask selects which modules print debug output, per spec.md §6's
	// environment toggle. When SCOREPGO_DEBUG is set and parses, ApplyDefaults
	// replaces this field with the parsed mask, overriding any explicit value.
	DebugMask DebugModule

	// CoreFileDump enables a diagnostic core-file dump on post-processing
	// inconsistency, per spec.md §6/§7.
	CoreFileDump bool

	// OutputFlushInterval is the pkg/output Writer's periodic flush period.
	OutputFlushInterval time.Duration
}

// DefaultRuntimeConfig returns the configuration used when no environment
// override or explicit field is set.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DebugMask:           0,
		CoreFileDump:        false,
		OutputFlushInterval: time.Second,
	}
}

// ApplyDefaults fills in zero-value fields with DefaultRuntimeConfig's
// values, then applies any SCOREPGO_* environment overrides — mirroring the
// teacher's ApplyDefaults-then-HOST_PROC-override order in
// performance.NewManager.
func (c *RuntimeConfig) ApplyDefaults(warn func(string)) {
	defaults := DefaultRuntimeConfig()

	if c.OutputFlushInterval == 0 {
		c.OutputFlushInterval = defaults.OutputFlushInterval
	}

	if spec := os.Getenv(envDebugMask); spec != "" {
		if mask, ok := ParseDebugMask(spec, warn); ok {
			c.DebugMask = mask
		}
	}
	if os.Getenv(envCoreFileDump) != "" {
		c.CoreFileDump = CoreFileDumpEnabled(os.Getenv(envCoreFileDump))
	}
	if v := os.Getenv(envFlushInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.OutputFlushInterval = d
		} else if warn != nil {
			warn("config: malformed " + envFlushInterval + ": " + err.Error())
		}
	}
}

// CoreFileDumpEnabled reports whether value is one of the recognized truthy
// spellings; anything else, including malformed input, is treated as
// disabled rather than an error, matching spec.md §7's non-fatal-warning
// posture for malformed environment toggles.
func CoreFileDumpEnabled(value string) bool {
	switch value {
	case "1", "t", "T", "true", "TRUE", "True":
		return true
	default:
		return false
	}
}

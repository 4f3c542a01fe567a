// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Combine applies op element-wise across contributions, one per rank, each
// encoding the same number of dt-typed elements packed little-endian. It is
// the shared reduction kernel behind both Comm implementations' Reduce and
// Allreduce (spec.md §4.7's fixed reduction enumeration).
func Combine(dt Datatype, op ReductionOp, contributions [][]byte) ([]byte, error) {
	if len(contributions) == 0 {
		return nil, nil
	}
	width, err := elementWidth(dt)
	if err != nil {
		return nil, err
	}
	n := len(contributions[0])
	if n%width != 0 {
		return nil, fmt.Errorf("ipc: payload length %d not a multiple of datatype width %d", n, width)
	}
	for _, c := range contributions {
		if len(c) != n {
			return nil, fmt.Errorf("ipc: mismatched contribution lengths (%d vs %d)", len(c), n)
		}
	}

	result := append([]byte(nil), contributions[0]...)
	for _, c := range contributions[1:] {
		for off := 0; off < n; off += width {
			if err := combineElement(dt, op, result[off:off+width], c[off:off+width]); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func combineElement(dt Datatype, op ReductionOp, acc, next []byte) error {
	if dt == Double {
		a := math.Float64frombits(binary.LittleEndian.Uint64(acc))
		b := math.Float64frombits(binary.LittleEndian.Uint64(next))
		var r float64
		switch op {
		case ReduceSum:
			r = a + b
		case ReduceMin:
			r = math.Min(a, b)
		case ReduceMax:
			r = math.Max(a, b)
		default:
			return fmt.Errorf("ipc: reduction op %d is not defined for double", op)
		}
		binary.LittleEndian.PutUint64(acc, math.Float64bits(r))
		return nil
	}

	signed := dt == Int || dt == I64
	a := loadUint(acc)
	b := loadUint(next)
	var r uint64
	switch op {
	case ReduceSum:
		r = a + b
	case ReduceBand:
		r = a & b
	case ReduceBor:
		r = a | b
	case ReduceBxor:
		r = a ^ b
	case ReduceLand:
		r = boolToUint(a != 0 && b != 0)
	case ReduceLor:
		r = boolToUint(a != 0 || b != 0)
	case ReduceMin, ReduceMax:
		r = minMaxUint(a, b, op, signed, len(acc))
	default:
		return fmt.Errorf("ipc: unknown reduction op %d", op)
	}
	storeUint(acc, r)
	return nil
}

func loadUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		return 0
	}
}

func storeUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func minMaxUint(a, b uint64, op ReductionOp, signed bool, width int) uint64 {
	less := a < b
	if signed {
		less = signExtend(a, width) < signExtend(b, width)
	}
	if op == ReduceMin {
		if less {
			return a
		}
		return b
	}
	if less {
		return b
	}
	return a
}

func signExtend(v uint64, width int) int64 {
	switch width {
	case 1:
		return int64(int8(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc

import (
	"encoding/binary"
	"fmt"
)

// EncodeChunks packs a slice of byte slices into one length-prefixed blob,
// in the style of pkg/definitions's binWriter (itself grounded on the
// teacher's pkg/resource/store/encode.go). Scatter/Scatterv use this so a
// root's per-destination payloads travel as a single collective
// contribution; grpcchan also uses it to pack Exchange replies and split
// requests inside its RPC payloads.
func EncodeChunks(chunks [][]byte) []byte {
	var buf []byte
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(chunks)))
	buf = append(buf, lenBuf[:]...)
	for _, c := range chunks {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(c)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, c...)
	}
	return buf
}

// DecodeChunks is EncodeChunks's inverse.
func DecodeChunks(buf []byte) ([][]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("ipc: truncated chunk count")
	}
	n := binary.LittleEndian.Uint32(buf)
	off := 4
	chunks := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("ipc: truncated chunk %d length", i)
		}
		l := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		if off+int(l) > len(buf) {
			return nil, fmt.Errorf("ipc: truncated chunk %d body", i)
		}
		chunks = append(chunks, append([]byte(nil), buf[off:off+int(l)]...))
		off += int(l)
	}
	return chunks, nil
}

// elementWidth returns the byte width of one Datatype element, for Combine.
func elementWidth(dt Datatype) (int, error) {
	switch dt {
	case Byte, Char, U8:
		return 1, nil
	case Int, Uint, U32:
		return 4, nil
	case I64, U64, Double:
		return 8, nil
	default:
		return 0, fmt.Errorf("ipc: unknown datatype %d", dt)
	}
}

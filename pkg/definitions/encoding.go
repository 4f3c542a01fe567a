// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package definitions

import (
	"encoding/binary"
	"fmt"

	"github.com/parascope/runtime/pkg/alloc"
)

// binWriter and binReader are the manual, length-prefixed encoding helpers
// every definition type's MarshalBinary/UnmarshalBinary is built on, rather
// than a generated protobuf path. The wire format exists solely for
// shipment between processes during unification; it is never consulted on
// the measurement hot path.
type binWriter struct {
	buf []byte
}

func (w *binWriter) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) int64(v int64) { w.uint64(uint64(v)) }

func (w *binWriter) int16(v int16) { w.uint32(uint32(uint16(v))) }

func (w *binWriter) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binWriter) handle(h Handle) {
	w.uint32(uint32(h.Type))
	w.uint32(h.Movable.PageID())
	w.uint32(h.Movable.Offset())
}

func (w *binWriter) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

type binReader struct {
	buf []byte
	off int
}

func newBinReader(b []byte) *binReader { return &binReader{buf: b} }

func (r *binReader) uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("definitions: truncated uint32 at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *binReader) uint64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, fmt.Errorf("definitions: truncated uint64 at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *binReader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *binReader) int16() (int16, error) {
	v, err := r.uint32()
	return int16(uint16(v)), err
}

func (r *binReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.buf) {
		return nil, fmt.Errorf("definitions: truncated byte slice at offset %d", r.off)
	}
	b := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return b, nil
}

func (r *binReader) handle() (Handle, error) {
	kind, err := r.uint32()
	if err != nil {
		return Invalid, err
	}
	page, err := r.uint32()
	if err != nil {
		return Invalid, err
	}
	off, err := r.uint32()
	if err != nil {
		return Invalid, err
	}
	if page == ^uint32(0) && off == ^uint32(0) {
		return Invalid, nil
	}
	return Handle{Type: Kind(kind), Movable: alloc.NewMovableForDecode(page, off)}, nil
}

func (r *binReader) bool() (bool, error) {
	if r.off+1 > len(r.buf) {
		return false, fmt.Errorf("definitions: truncated bool at offset %d", r.off)
	}
	v := r.buf[r.off] != 0
	r.off++
	return v, nil
}

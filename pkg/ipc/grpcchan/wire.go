// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package grpcchan

import (
	"encoding/binary"
	"fmt"
)

// Every Collective/Send/Recv RPC carries one of these manually-encoded
// payloads inside a wrapperspb.BytesValue.Value, in the same
// length-prefixed style as pkg/ipc's EncodeChunks. There is no generated
// .proto message here: the wire envelope is a real, precompiled protobuf
// well-known type, and only the bytes inside it follow this package's own
// framing, the same division pkg/definitions draws between its catalog
// handles and its binWriter framing.

type exchangeRequest struct {
	group string
	rank  int32
	size  int32
	data  []byte
}

func encodeExchangeRequest(r exchangeRequest) []byte {
	var b []byte
	b = appendString(b, r.group)
	b = appendInt32(b, r.rank)
	b = appendInt32(b, r.size)
	b = appendBytes(b, r.data)
	return b
}

func decodeExchangeRequest(b []byte) (exchangeRequest, error) {
	var r exchangeRequest
	var err error
	if r.group, b, err = takeString(b); err != nil {
		return r, err
	}
	if r.rank, b, err = takeInt32(b); err != nil {
		return r, err
	}
	if r.size, b, err = takeInt32(b); err != nil {
		return r, err
	}
	if r.data, _, err = takeBytes(b); err != nil {
		return r, err
	}
	return r, nil
}

type ptpRequest struct {
	group     string
	size      int32
	src, dest int32
	tag       int32
	data      []byte
}

func encodePtpRequest(r ptpRequest) []byte {
	var b []byte
	b = appendString(b, r.group)
	b = appendInt32(b, r.size)
	b = appendInt32(b, r.src)
	b = appendInt32(b, r.dest)
	b = appendInt32(b, r.tag)
	b = appendBytes(b, r.data)
	return b
}

func decodePtpRequest(b []byte) (ptpRequest, error) {
	var r ptpRequest
	var err error
	if r.group, b, err = takeString(b); err != nil {
		return r, err
	}
	if r.size, b, err = takeInt32(b); err != nil {
		return r, err
	}
	if r.src, b, err = takeInt32(b); err != nil {
		return r, err
	}
	if r.dest, b, err = takeInt32(b); err != nil {
		return r, err
	}
	if r.tag, b, err = takeInt32(b); err != nil {
		return r, err
	}
	if r.data, _, err = takeBytes(b); err != nil {
		return r, err
	}
	return r, nil
}

func appendInt32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}

func takeInt32(b []byte) (int32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("grpcchan: truncated int32")
	}
	return int32(binary.LittleEndian.Uint32(b)), b[4:], nil
}

func appendBytes(b, v []byte) []byte {
	b = appendInt32(b, int32(len(v)))
	return append(b, v...)
}

func takeBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := takeInt32(b)
	if err != nil {
		return nil, nil, err
	}
	if int32(len(rest)) < n {
		return nil, nil, fmt.Errorf("grpcchan: truncated byte slice")
	}
	return append([]byte(nil), rest[:n]...), rest[n:], nil
}

func appendString(b []byte, s string) []byte {
	return appendBytes(b, []byte(s))
}

func takeString(b []byte) (string, []byte, error) {
	v, rest, err := takeBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(v), rest, nil
}

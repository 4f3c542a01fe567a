// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc

import (
	"context"
	"sync"
)

type envelope struct {
	src, tag int
	data     []byte
}

// PointToPoint queues Send'd envelopes by destination rank until a matching
// Recv claims them. Send never blocks; Recv blocks until a (src, tag) match
// arrives, checking ctx for cancellation only between wake-ups since every
// Comm call is expected to be synchronous and collective. Shared by
// pkg/ipc/localchan (one goroutine per rank) and pkg/ipc/grpcchan (one
// coordinator goroutine per inbound Send/Recv RPC).
type PointToPoint struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[int][]envelope
}

func NewPointToPoint(size int) *PointToPoint {
	p := &PointToPoint{pending: make(map[int][]envelope, size)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *PointToPoint) Send(ctx context.Context, src, dest, tag int, data []byte) error {
	p.mu.Lock()
	p.pending[dest] = append(p.pending[dest], envelope{src: src, tag: tag, data: data})
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

func (p *PointToPoint) Recv(ctx context.Context, src, dest, tag int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		list := p.pending[dest]
		for i, e := range list {
			if e.src == src && e.tag == tag {
				p.pending[dest] = append(list[:i:i], list[i+1:]...)
				return e.data, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		p.cond.Wait()
	}
}

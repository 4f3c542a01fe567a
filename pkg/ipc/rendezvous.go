// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc

import "sync"

// Rendezvous is the shared two-phase barrier behind every collective op in
// both pkg/ipc implementations: every member contributes data, then every
// member observes every contribution, with no result released until the
// last contribution has arrived. pkg/ipc/localchan drives it directly from
// one goroutine per rank; pkg/ipc/grpcchan's coordinator drives it from one
// goroutine per inbound RPC, blocking the handler until its round
// completes — the same rendezvous, just with an RPC instead of a
// goroutine as the per-rank caller.
type Rendezvous struct {
	size int

	mu       sync.Mutex
	cond     *sync.Cond
	arrived  int
	departed int
	contrib  [][]byte
}

// NewRendezvous creates a barrier for a group of size members.
func NewRendezvous(size int) *Rendezvous {
	r := &Rendezvous{size: size, contrib: make([][]byte, size)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Rendezvous) Size() int { return r.size }

// Exchange contributes data on behalf of member, blocking until every
// member has contributed, then returns every member's contribution indexed
// by member id. The mutex held across cond.Wait's sleep/wake cycle
// guarantees no member can start the next round before this one's last
// departer has reset the round state.
func (r *Rendezvous) Exchange(member int, data []byte) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.arrived == r.size {
		r.cond.Wait()
	}
	r.contrib[member] = data
	r.arrived++
	if r.arrived < r.size {
		for r.arrived < r.size {
			r.cond.Wait()
		}
	} else {
		r.cond.Broadcast()
	}

	result := append([][]byte(nil), r.contrib...)

	r.departed++
	if r.departed == r.size {
		r.arrived = 0
		r.departed = 0
		r.contrib = make([][]byte, r.size)
		r.cond.Broadcast()
	}
	return result
}

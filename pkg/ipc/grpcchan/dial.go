// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package grpcchan is a gRPC-backed Inter-Process Channel (pkg/ipc) for
// multi-process runs: one rank (conventionally rank 0) hosts a
// coordinator, and every rank's Comm — including rank 0's own, over a
// loopback dial — reaches it with one unary RPC per collective or
// point-to-point operation. This is a deliberate simplification of a true
// peer-to-peer MPI-style topology: arbitrary pairwise rendezvous over
// unary RPCs across every rank pair is substantially more complex, and a
// star topology gets every pkg/ipc operation's semantics right at the
// cost of routing every call through one hub process.
package grpcchan

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/parascope/runtime/pkg/ipc"
)

// Channel implements ipc.Channel by dialing a coordinator at a fixed
// address; Init/Finalize bookend the connection's lifetime the way a
// real MPI_Init/MPI_Finalize pair would.
type Channel struct {
	Addr string
	Opts Options

	closeConn func() error
}

func (ch *Channel) Init(ctx context.Context) (ipc.Comm, error) {
	comm, closeConn, err := Dial(ch.Addr, ch.Opts)
	if err != nil {
		return nil, err
	}
	ch.closeConn = closeConn
	return comm, nil
}

func (ch *Channel) Finalize(ctx context.Context) error {
	if ch.closeConn == nil {
		return nil
	}
	return ch.closeConn()
}

// Options configures a dial: a Secure switch choosing between TLS and
// insecure transport credentials, and a keepalive ping interval.
type Options struct {
	Secure        bool
	KeepaliveTime time.Duration
	Rank          int
	Size          int
}

func (o Options) withDefaults() Options {
	if o.KeepaliveTime == 0 {
		o.KeepaliveTime = 5 * time.Minute
	}
	return o
}

// Dial connects to a coordinator at addr and returns this rank's Comm over
// the root group.
func Dial(addr string, opts Options) (*Comm, func() error, error) {
	opts = opts.withDefaults()
	if opts.Rank < 0 || opts.Rank >= opts.Size {
		return nil, nil, fmt.Errorf("grpcchan: rank %d out of range for size %d", opts.Rank, opts.Size)
	}

	var creds credentials.TransportCredentials
	if opts.Secure {
		creds = credentials.NewTLS(&tls.Config{})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time: opts.KeepaliveTime,
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcchan: dial %s: %w", addr, err)
	}

	comm := NewComm(conn, RootGroup, opts.Rank, opts.Size)
	return comm, conn.Close, nil
}

// Coordinator hosts the rendezvous every rank's Comm dials into.
type Coordinator struct {
	srv *grpc.Server
}

// NewCoordinator builds a gRPC server with the Collective service
// registered. creds may be nil, in which case the server accepts plaintext
// connections (matching Dial's Secure=false path).
func NewCoordinator(creds credentials.TransportCredentials) *Coordinator {
	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&serviceDesc, newCoordinatorServer())
	return &Coordinator{srv: srv}
}

// Serve blocks accepting connections on lis until the server is stopped or
// the listener errors.
func (c *Coordinator) Serve(lis net.Listener) error {
	return c.srv.Serve(lis)
}

// Stop gracefully stops the coordinator, waiting for in-flight RPCs (i.e.
// in-progress rendezvous rounds) to finish.
func (c *Coordinator) Stop() {
	c.srv.GracefulStop()
}

// Listen is a convenience wrapper combining net.Listen and Serve, run in a
// caller-managed goroutine.
func Listen(ctx context.Context, network, addr string, creds credentials.TransportCredentials) (*Coordinator, net.Addr, error) {
	lis, err := net.Listen(network, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcchan: listen %s: %w", addr, err)
	}
	coord := NewCoordinator(creds)
	go func() {
		<-ctx.Done()
		coord.Stop()
	}()
	go func() {
		_ = coord.Serve(lis)
	}()
	return coord, lis.Addr(), nil
}

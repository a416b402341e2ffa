package halo

import (
	"context"
	"fmt"

	"github.com/akvist/nonbond/geom"
)

// Message kinds. Every exchange message is tagged so a desynchronized peer
// is detected instead of silently merging the wrong slab.
const (
	KindGather  = iota + 1 // coordinates + global ids, new ghost selection
	KindRefresh            // coordinates only, reusing the last selection
	KindReturn             // ghost force contributions flowing back
)

// Message is one slab of exchange data. Axis and Dir identify the forward
// phase the message belongs to, Step the force-evaluation step.
type Message struct {
	Kind int
	Step int
	Axis int
	Dir  int

	Payload []geom.Vec
	Global  []int32 // only for KindGather
}

// Transport delivers messages between ranks. Implementations must allow
// every rank to complete Send for a phase before any rank blocks in Recv,
// which in practice means buffering at least a phase's worth of messages.
type Transport interface {
	Send(ctx context.Context, to int, m *Message) error
	Recv(ctx context.Context, from int) (*Message, error)
}

// CommunicationFailure is fatal: a timed-out or mismatched exchange leaves
// no consistent halo to compute forces from, so the step cannot proceed.
type CommunicationFailure struct {
	Rank, Peer int
	Step       int
	Op         string
	Err        error
}

func (err *CommunicationFailure) Error() string {
	return fmt.Sprintf(
		"halo exchange failed on rank %d (%s with rank %d, step %d): %v",
		err.Rank, err.Op, err.Peer, err.Step, err.Err,
	)
}

func (err *CommunicationFailure) Unwrap() error { return err.Err }

// ChannelTransport is the in-process Transport: one buffered channel per
// ordered rank pair, shared by the whole mesh.
type ChannelTransport struct {
	rank int
	mesh [][]chan *Message
}

// meshBuffer bounds how many undelivered messages one rank pair can hold.
// Two is enough for phase-lockstep peers; extra slack is harmless.
const meshBuffer = 8

// NewChannelMesh returns one connected transport per rank.
func NewChannelMesh(n int) []*ChannelTransport {
	mesh := make([][]chan *Message, n)
	for from := range mesh {
		mesh[from] = make([]chan *Message, n)
		for to := range mesh[from] {
			mesh[from][to] = make(chan *Message, meshBuffer)
		}
	}
	ts := make([]*ChannelTransport, n)
	for rank := range ts {
		ts[rank] = &ChannelTransport{rank: rank, mesh: mesh}
	}
	return ts
}

func (t *ChannelTransport) Send(ctx context.Context, to int, m *Message) error {
	select {
	case t.mesh[t.rank][to] <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ChannelTransport) Recv(ctx context.Context, from int) (*Message, error) {
	select {
	case m := <-t.mesh[from][t.rank]:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

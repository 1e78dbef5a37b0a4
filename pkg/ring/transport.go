package ring

import "context"

// Transport connects a peer to its ring. Send and Receive only ever reach
// the successor and the predecessor of the peer; messages on a link are
// delivered in order.
//
// BroadcastSignal (rank 0) and ReceiveSignal (other ranks) form a group
// barrier: none of them returns before every peer of the group has received
// the signal.
type Transport interface {
	Rank() int
	Size() int

	Send(context.Context, Message) error
	Receive(context.Context) (Message, error)

	BroadcastSignal(context.Context, *SignalMsg) error
	ReceiveSignal(context.Context) (*SignalMsg, error)
}

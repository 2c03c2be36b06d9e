package b23bot

import "context"

// transport is the internal interface for one connection to the gateway.
// A fresh transport is created for every connect attempt.
type transport interface {
	// dial opens the connection and starts the read loop.
	dial(ctx context.Context) error

	// write sends one text frame.
	write(data []byte) error

	// setFrameHandler registers the callback for inbound frames. Frames are
	// delivered one at a time in arrival order.
	setFrameHandler(fn func(data []byte))

	// onDisconnect registers a callback for an unexpected close. It is not
	// called after close().
	onDisconnect(fn func(error))

	// close shuts the connection down deliberately.
	close() error
}

// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"context"

	"github.com/creachadair/rxctl/event"
	"github.com/creachadair/rxctl/proto"
)

// A Transport carries calls and events between a Receiver and its server.
// A *proto.Client satisfies this interface.
type Transport interface {
	// Subscribe opens the server event stream and calls f with each event in
	// the order the server sent them, from a single goroutine. The stream
	// runs until ctx ends or cancel is called. If it ends for any other
	// reason, f receives a final event.Unsubscribed.
	Subscribe(ctx context.Context, f func(event.Event)) (cancel func(), err error)

	// Call invokes a method of the server with encoded arguments, and returns
	// its encoded result.
	Call(ctx context.Context, method string, args []byte) ([]byte, error)
}

var _ Transport = (*proto.Client)(nil)

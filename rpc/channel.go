// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Direct constructs a connected pair of in-memory channels that pass packets
// directly without encoding into binary. Packets sent to A are received by B
// and vice versa.
func Direct() (A, B Channel) {
	a2b := make(chan *Packet)
	b2a := make(chan *Packet)
	return direct{send: a2b, recv: b2a}, direct{send: b2a, recv: a2b}
}

type direct struct {
	send chan<- *Packet
	recv <-chan *Packet
}

func (d direct) Send(pkt *Packet) (err error) {
	defer closedOnPanic(&err)
	d.send <- pkt
	return nil
}

func (d direct) Recv() (*Packet, error) {
	pkt, ok := <-d.recv
	if !ok {
		return nil, net.ErrClosed
	}
	return pkt, nil
}

func (d direct) Close() (err error) {
	defer closedOnPanic(&err)
	close(d.send)
	return nil
}

// closedOnPanic converts a send on (or close of) a closed Go channel into
// net.ErrClosed.
func closedOnPanic(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives from r and sends to wc.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives packets on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [Channel] interface.
func (c IOChannel) Send(pkt *Packet) error {
	if _, err := pkt.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [Channel] interface.
func (c IOChannel) Recv() (*Packet, error) {
	var pkt Packet
	if _, err := pkt.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &pkt, nil
}

// Close implements a method of the [Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }

// WebSocket constructs a channel that exchanges packets as binary messages on
// a websocket connection. Each message carries exactly one packet.
func WebSocket(conn *websocket.Conn) WSChannel { return WSChannel{conn: conn} }

// A WSChannel sends and receives packets on a websocket connection.
type WSChannel struct {
	conn *websocket.Conn
}

// Send implements a method of the [Channel] interface.
func (c WSChannel) Send(pkt *Packet) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, pkt.Encode())
}

// Recv implements a method of the [Channel] interface. A normal close from
// the remote end is reported as [io.EOF].
func (c WSChannel) Recv() (*Packet, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue // ignore text frames
		}
		var pkt Packet
		if _, err := pkt.ReadFrom(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("websocket message: %w", err)
		}
		return &pkt, nil
	}
}

// Close implements a method of the [Channel] interface.
func (c WSChannel) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) // best effort
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DialWebSocket connects to a websocket endpoint at url and returns a channel
// for it.
func DialWebSocket(ctx context.Context, url string) (WSChannel, error) {
	conn, rsp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if rsp != nil {
			return WSChannel{}, fmt.Errorf("dial %q: %w (status %s)", url, err, rsp.Status)
		}
		return WSChannel{}, fmt.Errorf("dial %q: %w", url, err)
	}
	return WebSocket(conn), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// upgrade converts an HTTP request into a websocket channel.
func upgrade(w http.ResponseWriter, r *http.Request) (WSChannel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return WSChannel{}, err
	}
	return WebSocket(conn), nil
}

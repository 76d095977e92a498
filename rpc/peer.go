// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package rpc implements the call engine shared by receiver clients and
// servers. Two peers exchange framed packets on a [Channel]; either side may
// issue calls to named methods registered on the other, and any call may be
// canceled while it is pending.
package rpc

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
)

// A Channel is a reliable ordered stream of packets shared by two peers.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the packet in binary format to the receiver.
	Send(*Packet) error

	// Receive the next available packet from the channel.
	Recv() (*Packet, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A Handler processes a request from the remote peer. A handler can obtain
// the peer from its context argument using the ContextPeer helper.
//
// An error reported by a handler is returned to the caller as a service
// error. A handler may return an ErrorData value, or an error implementing
// ResultCode, to control what the caller sees.
type Handler func(context.Context, *Request) ([]byte, error)

// A PacketLogger logs a packet exchanged with the remote peer.
type PacketLogger func(pkt PacketInfo)

// A PacketInfo combines a packet and a flag indicating whether the packet was
// sent or received.
type PacketInfo struct {
	*Packet      // the packet being logged
	Sent    bool // whether the packet was sent (true) or received (false)
}

func (p PacketInfo) String() string {
	if p.Sent {
		return fmt.Sprintf("send %v", p.Packet)
	}
	return fmt.Sprintf("recv %v", p.Packet)
}

// SlogPackets returns a PacketLogger that writes each packet to lg at debug
// level.
func SlogPackets(lg *slog.Logger) PacketLogger {
	return func(pkt PacketInfo) {
		lg.Debug("packet", "sent", pkt.Sent, "type", pkt.Type, "bytes", len(pkt.Payload))
	}
}

// A Peer is one end of an RPC connection. A zero-valued Peer is ready for
// use, but must not be copied after any method has been called.
//
// Call Start with a channel to start the service routine for the peer. Once
// started, a peer runs until Stop is called, the channel closes, or a protocol
// fatal error occurs. Use Wait to wait for the peer to exit and report its
// status. Stopping a peer terminates all handlers and calls in progress.
//
// Handle and Call are safe for concurrent use by multiple goroutines.
type Peer struct {
	in  interface{ Recv() (*Packet, error) }
	out struct {
		// Must hold the lock to send to or set ch, or to access log.
		sync.Mutex
		ch  Channel
		log PacketLogger
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error                  // protocol fatal error
	ocall  map[uint32]pending     // outbound calls pending responses
	nexto  uint32                 // next unused outbound call ID
	icall  map[uint32]func()      // requestID → cancel func
	imux   map[string]Handler     // method → handler
	base   func() context.Context // return a new base context
	stats  *peerMetrics           // if nil, use rootMetrics
	onExit func(error)
}

// NewPeer constructs a new unstarted peer.
func NewPeer() *Peer { return new(Peer) }

// Start starts the peer running on the given channel. The peer runs until the
// channel closes or a protocol fatal error occurs. Start does not block; call
// Wait to wait for the peer to exit and report its status.
func (p *Peer) Start(ch Channel) *Peer {
	if p.in != nil {
		panic("peer is already started")
	}

	g := taskgroup.New(nil)
	p.μ.Lock()
	p.in = ch
	p.tasks = g
	p.err = nil
	p.ocall = make(map[uint32]pending)
	p.nexto = 0
	p.icall = make(map[uint32]func())
	if p.base == nil {
		p.base = context.Background
	}
	p.μ.Unlock()
	p.out.Lock()
	p.out.ch = ch
	p.out.Unlock()

	g.Go(func() error {
		for {
			pkt, err := ch.Recv()
			if err != nil {
				p.fail(err)
				return nil
			}
			p.metrics().packetRecv.Add(1)
			if err := p.dispatchPacket(pkt); err != nil {
				p.fail(err)
				return nil
			}
		}
	})

	return p
}

// Metrics returns the metrics map for the peer. Unless the peer was given its
// own map with WithMetrics, all peers share a single process-wide map.
func (p *Peer) Metrics() *expvar.Map { return p.metrics().emap }

// WithMetrics gives p its own metrics map, separate from the shared one.
// It must be called before Start. It returns p to permit chaining.
func (p *Peer) WithMetrics() *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.stats = newPeerMetrics()
	return p
}

func (p *Peer) metrics() *peerMetrics {
	if p.stats != nil {
		return p.stats
	}
	return rootMetrics
}

// Stop closes the channel and terminates the peer. It blocks until the peer
// has exited and returns its status. After Stop completes it is safe to
// restart the peer with a new channel.
func (p *Peer) Stop() error { p.closeOut(); return p.Wait() }

func isCleanExit(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Wait blocks until p terminates and reports the error that caused it to stop.
// After Wait completes it is safe to restart the peer with a new channel.
//
// If p is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error that triggered protocol failure.
func (p *Peer) Wait() error {
	p.μ.Lock()
	g := p.tasks
	p.μ.Unlock()
	if g == nil {
		return nil // not running
	}
	g.Wait()

	p.μ.Lock()
	defer p.μ.Unlock()
	p.in = nil
	p.tasks = nil
	p.out.Lock()
	p.out.ch = nil
	p.out.Unlock()
	p.ocall = nil
	p.icall = nil

	if isCleanExit(p.err) {
		return nil
	}
	return p.err
}

// Call sends a call to the remote peer for the specified method and data, and
// blocks until ctx ends or until the response is received. If ctx ends before
// the peer replies, the call is canceled on the remote peer. An error reported
// by Call has concrete type *CallError.
func (p *Peer) Call(ctx context.Context, method string, data []byte) (_ *Response, err error) {
	if len(method) > MaxMethodLen {
		return nil, callError(fmt.Errorf("method name too long (%d > %d bytes)", len(method), MaxMethodLen))
	}
	m := p.metrics()
	m.callOut.Add(1)
	defer func() {
		if err != nil {
			m.callOutErr.Add(1)
		}
	}()

	id, pc, err := p.sendReq(method, data)
	if err != nil {
		return nil, callError(err)
	}
	m.callPending.Add(1)
	defer m.callPending.Add(-1)

	done := ctx.Done()
	for {
		select {
		case <-done:
			// Tell the remote peer to give up, then keep waiting for its reply.
			p.sendCancel(id)
			done = nil

			// If the remote peer never answers the cancellation, give up anyway.
			// The request ID stays reserved so it is not reused before the remote
			// peer has released it.
			wd := time.AfterFunc(50*time.Millisecond, func() {
				p.μ.Lock()
				defer p.μ.Unlock()
				if pc, ok := p.ocall[id]; ok {
					p.ocall[id] = nil
					pc.deliver(&Response{RequestID: id, Code: CodeCanceled})
				}
			})
			defer wd.Stop()

		case rsp, ok := <-pc:
			if !ok {
				// Closed without a response: the peer failed. The pending channel
				// is closed under the lock that also records the failure.
				p.μ.Lock()
				perr := p.err
				p.μ.Unlock()
				return nil, callError(fmt.Errorf("call terminated: %w", perr))
			}
			switch rsp.Code {
			case CodeSuccess:
				return rsp, nil
			case CodeCanceled:
				return nil, &CallError{Err: context.Canceled, Response: rsp}
			}
			ce := &CallError{Response: rsp}
			if err := ce.ErrorData.Decode(rsp.Data); err != nil {
				ce.Message = err.Error()
			}
			return nil, ce
		}
	}
}

// resultCoder is an extension interface an error may implement to override the
// result code reported for the error.
type resultCoder interface{ ResultCode() ResultCode }

// errUnknownMethod is reported by Exec for a method with no handler. A handler
// that returns it behaves as if no handler was found.
type errUnknownMethod struct{ method string }

func (e errUnknownMethod) Error() string        { return fmt.Sprintf("exec: unknown method %q", e.method) }
func (errUnknownMethod) ResultCode() ResultCode { return CodeUnknownMethod }

// Exec runs the local handler on p for method, if one exists, and returns its
// result. The wildcard handler is not consulted.
func (p *Peer) Exec(ctx context.Context, method string, data []byte) ([]byte, error) {
	p.μ.Lock()
	handler, ok := p.imux[method]
	p.μ.Unlock()
	if !ok {
		return nil, errUnknownMethod{method}
	}
	return handler(ctx, &Request{Method: method, Data: data})
}

// Clone returns a new unstarted peer with the same handlers, base context
// and metrics as p. Later changes to either peer's handlers do not affect the
// other.
func (p *Peer) Clone() *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	cp := &Peer{base: p.base, stats: p.stats, imux: make(map[string]Handler, len(p.imux))}
	maps.Copy(cp.imux, p.imux)
	return cp
}

// Handle registers a handler for the specified method name. It is safe to call
// this while the peer is running. Passing a nil Handler removes any handler
// for the method. Handle returns p to permit chaining.
//
// As a special case, a handler for the empty method name is called for any
// request whose method has no more specific handler.
func (p *Peer) Handle(method string, handler Handler) *Peer {
	if len(method) > MaxMethodLen {
		panic(fmt.Sprintf("method name too long (%d > %d bytes)", len(method), MaxMethodLen))
	}
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.imux == nil {
		p.imux = make(map[string]Handler)
	}
	if handler == nil {
		delete(p.imux, method)
	} else {
		p.imux[method] = handler
	}
	return p
}

// LogPackets registers a callback that will be invoked for each packet
// exchanged with the remote peer. Passing nil disables packet logging.
func (p *Peer) LogPackets(log PacketLogger) *Peer {
	p.out.Lock()
	defer p.out.Unlock()
	p.out.log = log
	return p
}

// OnExit registers a callback to be invoked when the peer terminates. The
// callback runs synchronously during shutdown, with the same error value that
// Wait would report. If f == nil the callback is removed.
func (p *Peer) OnExit(f func(error)) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.onExit = f
	return p
}

// NewContext registers a function that will be called to create a new base
// context for method handlers. If it is not set a background context is used.
func (p *Peer) NewContext(base func() context.Context) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	if base == nil {
		p.base = context.Background
	} else {
		p.base = base
	}
	return p
}

// fail terminates all pending calls and records the failure status.
func (p *Peer) fail(err error) {
	p.closeOut()

	p.μ.Lock()
	defer p.μ.Unlock()

	for _, pc := range p.ocall {
		pc.close()
	}
	p.ocall = nil
	for _, stop := range p.icall {
		stop()
	}
	p.icall = nil

	p.err = err
	if p.onExit != nil {
		if isCleanExit(err) {
			err = nil
		}
		p.onExit(err)
	}
}

func (p *Peer) sendRsp(rsp *Response) {
	p.μ.Lock()
	delete(p.icall, rsp.RequestID)
	err := p.err
	p.μ.Unlock()
	if err != nil {
		return
	}
	if err := p.sendOut(&Packet{Type: PacketResponse, Payload: rsp.Encode()}); err != nil {
		p.closeOut()
	}
}

// sendReq sends a request packet for the given method and data. It blocks
// until the send completes, but does not wait for the reply, which will be
// delivered on the returned pending channel.
func (p *Peer) sendReq(method string, data []byte) (uint32, pending, error) {
	p.μ.Lock()
	if p.err != nil || p.ocall == nil {
		err := p.err
		p.μ.Unlock()
		if err == nil {
			err = net.ErrClosed
		}
		return 0, nil, err
	}
	p.nexto++
	id := p.nexto
	pc := make(pending, 1)
	p.ocall[id] = pc
	p.μ.Unlock()

	// The state lock must not be held here, or the receive loop would stall.
	err := p.sendOut(&Packet{
		Type:    PacketRequest,
		Payload: Request{RequestID: id, Method: method, Data: data}.Encode(),
	})

	p.μ.Lock()
	defer p.μ.Unlock()
	if err != nil {
		p.releaseIDLocked(id)
		return 0, nil, err
	}
	return id, pc, nil
}

func (p *Peer) sendCancel(id uint32) {
	if err := p.sendOut(&Packet{
		Type:    PacketCancel,
		Payload: Cancel{RequestID: id}.Encode(),
	}); err != nil {
		p.closeOut() // protocol fatal
	}
}

func (p *Peer) reply(id uint32, code ResultCode) error {
	return p.sendOut(&Packet{
		Type:    PacketResponse,
		Payload: Response{RequestID: id, Code: code}.Encode(),
	})
}

// dispatchRequestLocked dispatches an inbound request to its handler.
// Duplicate request IDs and unknown methods are answered directly.
func (p *Peer) dispatchRequestLocked(req *Request) (err error) {
	m := p.metrics()
	m.callIn.Add(1)
	defer func() {
		if err != nil {
			m.callInErr.Add(1)
		}
	}()

	if _, ok := p.icall[req.RequestID]; ok {
		return p.reply(req.RequestID, CodeDuplicateID)
	}
	handler, ok := p.imux[req.Method]
	if !ok {
		if handler, ok = p.imux[""]; !ok {
			return p.reply(req.RequestID, CodeUnknownMethod)
		}
	}

	ctx, cancel := context.WithCancel(context.WithValue(p.base(), peerContextKey{}, p))
	p.icall[req.RequestID] = cancel
	m.callActive.Add(1)

	p.tasks.Go(func() error {
		defer cancel()
		defer m.callActive.Add(-1)

		data, err := func() (_ []byte, err error) {
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("handler panicked (recovered): %v", x)
				}
			}()
			return handler(ctx, req)
		}()
		p.sendRsp(encodeResult(ctx, req.RequestID, data, err))
		return nil
	})
	return nil
}

// encodeResult packages the outcome of a handler as a response.
func encodeResult(ctx context.Context, id uint32, data []byte, err error) *Response {
	rsp := &Response{RequestID: id}
	var ed ErrorData
	var rc resultCoder

	// Only the bare context sentinels count as cancellation.
	if ctx.Err() != nil || err == context.Canceled || err == context.DeadlineExceeded {
		rsp.Code = CodeCanceled
	} else if err == nil {
		rsp.Code, rsp.Data = CodeSuccess, data
	} else if errors.As(err, &rc) {
		rsp.Code, rsp.Data = rc.ResultCode(), data
	} else if asErrorData(err, &ed) {
		rsp.Code, rsp.Data = CodeServiceError, ed.Encode()
	} else {
		rsp.Code, rsp.Data = CodeServiceError, ErrorData{Message: err.Error()}.Encode()
	}
	return rsp
}

func asErrorData(err error, ed *ErrorData) bool {
	var ptr *ErrorData
	if errors.As(err, ed) {
		return true
	} else if errors.As(err, &ptr) && ptr != nil {
		*ed = *ptr
		return true
	}
	return false
}

// dispatchPacket routes an inbound packet from the remote peer.
// Any error it reports is protocol fatal.
func (p *Peer) dispatchPacket(pkt *Packet) error {
	p.out.Lock()
	plog := p.out.log
	p.out.Unlock()
	if plog != nil {
		plog(PacketInfo{Packet: pkt, Sent: false})
	}

	switch pkt.Type {
	case PacketRequest:
		var req Request
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid request packet: %w", err)
		}
		p.μ.Lock()
		defer p.μ.Unlock()
		return p.dispatchRequestLocked(&req)

	case PacketCancel:
		var req Cancel
		if err := req.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid cancel packet: %w", err)
		}
		p.metrics().cancelIn.Add(1)
		p.μ.Lock()
		defer p.μ.Unlock()
		if stop, ok := p.icall[req.RequestID]; ok {
			stop()
		}

	case PacketResponse:
		var rsp Response
		if err := rsp.Decode(pkt.Payload); err != nil {
			return fmt.Errorf("invalid response packet: %w", err)
		}
		p.μ.Lock()
		defer p.μ.Unlock()
		if pc, ok := p.ocall[rsp.RequestID]; ok {
			p.releaseIDLocked(rsp.RequestID)
			pc.deliver(&rsp) // does not block
		}

	default:
		p.metrics().packetDropped.Add(1)
	}
	return nil
}

func (p *Peer) releaseIDLocked(id uint32) {
	delete(p.ocall, id)
	if len(p.ocall) == 0 {
		p.nexto = 0
	}
}

func (p *Peer) sendOut(pkt *Packet) error {
	p.out.Lock()
	defer p.out.Unlock()
	if p.out.ch == nil {
		return net.ErrClosed
	}
	p.metrics().packetSent.Add(1)
	if p.out.log != nil {
		p.out.log(PacketInfo{Packet: pkt, Sent: true})
	}
	return p.out.ch.Send(pkt)
}

func (p *Peer) closeOut() {
	p.out.Lock()
	defer p.out.Unlock()
	if p.out.ch != nil {
		p.out.ch.Close()
	}
}

type pending chan *Response

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(r *Response) {
	if p != nil {
		p <- r
		close(p)
	}
}

func callError(err error) *CallError { return &CallError{Err: err} }

// CallError is the concrete type of errors reported by the Call method of a
// Peer. For service errors, Err is nil and ErrorData holds the details. For
// errors arising from a response, Response holds the complete message.
type CallError struct {
	ErrorData
	Err      error     // nil for service errors
	Response *Response // set if the error came from a call response
}

// Unwrap reports the underlying error of c. If c.Err == nil, this is nil.
func (c *CallError) Unwrap() error { return c.Err }

// Error satisfies the error interface.
func (c *CallError) Error() string {
	if c.Err != nil {
		return c.Err.Error()
	} else if c.Response.Code == CodeServiceError {
		return fmt.Sprintf("service error: %v", c.ErrorData.Error())
	}
	return fmt.Sprintf("request %d: %s", c.Response.RequestID, c.Response.Code.String())
}

type peerContextKey struct{}

// ContextPeer returns the Peer associated with the given context, or nil if
// none is defined. The context passed to a method Handler has this value.
func ContextPeer(ctx context.Context) *Peer {
	if v := ctx.Value(peerContextKey{}); v != nil {
		return v.(*Peer)
	}
	return nil
}

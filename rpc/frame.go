// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/creachadair/rxctl/packet"
)

// MaxMethodLen is the maximum permitted length in bytes of a method name.
const MaxMethodLen = 255

// Packet is the parsed format of a frame exchanged between peers.
type Packet struct {
	Protocol byte
	Type     PacketType
	Payload  []byte
}

// Encode encodes p in binary format.
func (p Packet) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(p.Payload)))
	if _, err := p.WriteTo(buf); err != nil {
		panic(fmt.Errorf("encoding packet: %w", err))
	}
	return buf.Bytes()
}

// WriteTo writes the packet to w in binary format. It satisfies io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	buf := [8]byte{'R', 'X', p.Protocol, byte(p.Type)}
	binary.BigEndian.PutUint32(buf[4:], uint32(len(p.Payload)))
	nw, err := w.Write(buf[:])
	if err == nil && len(p.Payload) != 0 {
		var np int
		np, err = w.Write(p.Payload)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a packet from r in binary format. It satisfies io.ReaderFrom.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var buf [8]byte
	nr, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(nr), fmt.Errorf("short packet header: %w", err)
	}
	if m := string(buf[:2]); m != "RX" {
		return int64(nr), fmt.Errorf("invalid protocol magic %q", m)
	}

	p.Protocol = buf[2]
	p.Type = PacketType(buf[3])
	p.Payload = nil

	if psize := binary.BigEndian.Uint32(buf[4:]); psize > 0 {
		p.Payload = make([]byte, int(psize))
		var np int
		np, err = io.ReadFull(r, p.Payload)
		nr += np
		if err != nil {
			err = fmt.Errorf("short payload: %w", err)
		}
	}

	return int64(nr), err
}

// String returns a human-friendly rendering of the packet.
func (p *Packet) String() string {
	var pay string
	switch p.Type {
	case PacketRequest:
		var req Request
		if err := req.Decode(p.Payload); err == nil {
			pay = req.String()
		}
	case PacketCancel:
		var can Cancel
		if err := can.Decode(p.Payload); err == nil {
			pay = can.String()
		}
	case PacketResponse:
		var rsp Response
		if err := rsp.Decode(p.Payload); err == nil {
			pay = rsp.String()
		}
	}
	if pay == "" {
		pay = fmt.Sprint(p.Payload)
	}
	return fmt.Sprintf("Packet(RX%v, %v, %s)", p.Protocol, p.Type, pay)
}

// PacketType describes the structure type of a packet.
//
// Packet type values from 0 to 127 inclusive are reserved by the protocol.
// Values from 128-255 are available for use by the implementation.
type PacketType byte

const (
	PacketRequest  PacketType = 2 // The initial request for a call
	PacketCancel   PacketType = 3 // A cancellation signal for a pending call
	PacketResponse PacketType = 4 // The final response from a call

	maxReservedType = 127
)

func (p PacketType) String() string {
	switch p {
	case PacketRequest:
		return "REQUEST"
	case PacketCancel:
		return "CANCEL"
	case PacketResponse:
		return "RESPONSE"
	default:
		return fmt.Sprintf("TYPE:%d", byte(p))
	}
}

// Request is the payload format for a request packet.
type Request struct {
	RequestID uint32
	Method    string
	Data      []byte
}

// Encode encodes the request data in binary format.
// The method name is framed by a single length byte.
func (r Request) Encode() []byte {
	var b packet.Builder
	b.Grow(5 + len(r.Method) + len(r.Data))
	b.Uint32(r.RequestID)
	b.Put(byte(len(r.Method)))
	b.PutString(r.Method)
	b.Put(r.Data...)
	return b.Bytes()
}

// Decode decodes data into a request payload.
func (r *Request) Decode(data []byte) error {
	s := packet.NewScanner(data)
	id, err := s.Uint32()
	if err != nil {
		return fmt.Errorf("short request payload (%d bytes)", len(data))
	}
	mlen, err := s.Byte()
	if err != nil {
		return fmt.Errorf("short request payload (%d bytes)", len(data))
	}
	method, err := packet.Get[string](s, int(mlen))
	if err != nil {
		return fmt.Errorf("request method truncated: %w", err)
	}
	r.RequestID = id
	r.Method = method
	if rest := s.Rest(); len(rest) > 0 {
		r.Data = rest
	} else {
		r.Data = nil
	}
	return nil
}

// String returns a human-friendly rendering of the request.
func (r Request) String() string {
	return fmt.Sprintf("Request(ID=%v, Method=%q, Data=%+v)", r.RequestID, r.Method, r.Data)
}

// Response is the payload format for a response packet.
type Response struct {
	RequestID uint32
	Code      ResultCode
	Data      []byte
}

// Encode encodes the response data in binary format.
func (r Response) Encode() []byte {
	var b packet.Builder
	b.Grow(5 + len(r.Data))
	b.Uint32(r.RequestID)
	b.Put(byte(r.Code))
	b.Put(r.Data...)
	return b.Bytes()
}

// Decode decodes data into a response payload.
func (r *Response) Decode(data []byte) error {
	s := packet.NewScanner(data)
	id, err := s.Uint32()
	if err != nil {
		return fmt.Errorf("short response payload (%d bytes)", len(data))
	}
	code, err := s.Byte()
	if err != nil {
		return fmt.Errorf("short response payload (%d bytes)", len(data))
	} else if ResultCode(code) > CodeServiceError {
		return fmt.Errorf("invalid result code %d", code)
	}
	r.RequestID, r.Code = id, ResultCode(code)
	r.Data = nil
	if rest := s.Rest(); len(rest) != 0 {
		r.Data = rest
	}
	return nil
}

// String returns a human-friendly rendering of the response.
func (r Response) String() string {
	var data string
	if r.Code == CodeServiceError {
		var ed ErrorData
		if ed.Decode(r.Data) == nil {
			data = fmt.Sprintf("ErrorData(Code=%d, [%d bytes], %q)", ed.Code, len(ed.Data), ed.Message)
		}
	}
	if data == "" {
		if len(r.Data) > 16 {
			data = fmt.Sprintf("Data=%+v ...", r.Data[:16])
		} else {
			data = fmt.Sprintf("Data=%+v", r.Data)
		}
	}
	return fmt.Sprintf("Response(ID=%v, Code=%v, %s)", r.RequestID, r.Code, data)
}

// ResultCode describes the result status of a completed call.
type ResultCode byte

const (
	CodeSuccess       ResultCode = 0 // Call completed succesfully
	CodeUnknownMethod ResultCode = 1 // Requested an unknown method
	CodeDuplicateID   ResultCode = 2 // Duplicate request ID
	CodeCanceled      ResultCode = 3 // Call was canceled
	CodeServiceError  ResultCode = 4 // Call failed due to a service error
)

func (c ResultCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeUnknownMethod:
		return "UNKNOWN_METHOD"
	case CodeDuplicateID:
		return "DUPLICATE_REQUEST_ID"
	case CodeCanceled:
		return "CANCELED"
	case CodeServiceError:
		return "SERVICE_ERROR"
	default:
		return fmt.Sprintf("result code %d", byte(c))
	}
}

// Cancel is the payload format for a cancel request packet.
type Cancel struct {
	RequestID uint32
}

// Encode encodes the cancel request data in binary format.
func (c Cancel) Encode() []byte {
	var b packet.Builder
	b.Uint32(c.RequestID)
	return b.Bytes()
}

// Decode decodes data into a cancel payload.
func (c *Cancel) Decode(data []byte) error {
	s := packet.NewScanner(data)
	id, err := s.Uint32()
	if err != nil || s.Done() != nil {
		return fmt.Errorf("invalid cancel payload (%d bytes)", len(data))
	}
	c.RequestID = id
	return nil
}

// String returns a human-friendly rendering of the cancellation.
func (c Cancel) String() string { return fmt.Sprintf("Cancel(ID=%v)", c.RequestID) }

// ErrorData is the response data format for a service error response.
// A receiver server uses Code to report an application status, which the
// client maps back to its own error values.
type ErrorData struct {
	Code    uint16
	Message string
	Data    []byte
}

// Error implements the error interface, allowing an ErrorData value to be used
// as an error. This can be used by method handlers to control the error code
// and auxiliary data reported to the caller.
func (e ErrorData) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("[code %d] %s", e.Code, e.Message)
	}
	return e.Message
}

// Encode encodes the error data in binary format. The message is limited to
// 65535 bytes and is cut at a rune boundary if it is longer.
func (e ErrorData) Encode() []byte {
	msg := clipUTF8(e.Message, 65535)
	var b packet.Builder
	b.Grow(4 + len(msg) + len(e.Data))
	b.Uint16(e.Code)
	b.Uint16(uint16(len(msg)))
	b.PutString(msg)
	b.Put(e.Data...)
	return b.Bytes()
}

// clipUTF8 returns the longest prefix of s not exceeding n bytes that does not
// end in the middle of a UTF-8 encoding.
func clipUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Decode decodes data into an error data payload. An empty input decodes as
// empty details.
func (e *ErrorData) Decode(data []byte) error {
	if len(data) == 0 {
		*e = ErrorData{}
		return nil
	}
	s := packet.NewScanner(data)
	code, err := s.Uint16()
	if err != nil {
		return fmt.Errorf("invalid error data (%d bytes)", len(data))
	}
	mlen, err := s.Uint16()
	if err != nil {
		return fmt.Errorf("invalid error data (%d bytes)", len(data))
	}
	msg, err := packet.Get[string](s, int(mlen))
	if err != nil {
		return fmt.Errorf("error message truncated: %w", err)
	}
	e.Code, e.Message, e.Data = code, msg, nil
	if rest := s.Rest(); len(rest) != 0 {
		e.Data = rest
	}
	return nil
}

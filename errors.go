// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package rxctl

import (
	"errors"
	"fmt"

	"github.com/creachadair/rxctl/executor"
	"github.com/creachadair/rxctl/proto"
)

// A Code classifies the outcome of an operation.
type Code byte

const (
	CodeOK            Code = iota // success
	CodeNotFound                  // no such VFO or connection
	CodeUnimplemented             // not supported by this client
	CodeStalled                   // rejected by the stall guard
	CodeStopped                   // the receiver is closed
	CodeInvalid                   // argument out of range
	CodeTransport                 // reported by the RPC transport or server
)

var codeNames = [...]string{
	CodeOK:            "OK",
	CodeNotFound:      "NOT_FOUND",
	CodeUnimplemented: "UNIMPLEMENTED",
	CodeStalled:       "STALLED",
	CodeStopped:       "STOPPED",
	CodeInvalid:       "INVALID_ARGUMENT",
	CodeTransport:     "TRANSPORT",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code %d", byte(c))
}

// codedError is an error with an associated Code.
type codedError struct {
	code Code
	msg  string
}

func (e *codedError) Error() string { return e.msg }

// ResultCode reports the code associated with e.
func (e *codedError) ResultCode() Code { return e.code }

var (
	// ErrVFONotFound is reported for a command on a VFO that has been removed,
	// or that the server does not know.
	ErrVFONotFound error = &codedError{CodeNotFound, "VFO not found"}

	// ErrConnectionNotFound is reported when disconnecting an invalid
	// connection.
	ErrConnectionNotFound error = &codedError{CodeNotFound, "connection not found"}

	// ErrUnimplemented is reported by commands this client does not support.
	ErrUnimplemented error = &codedError{CodeUnimplemented, "not implemented"}

	// ErrInvalidArgument is reported for an argument out of its valid range.
	ErrInvalidArgument error = &codedError{CodeInvalid, "invalid argument"}

	// ErrStalled is reported when a command is rejected because the executor
	// is stalled.
	ErrStalled = executor.ErrStalled

	// ErrStopped is reported when a command is issued after Close.
	ErrStopped = executor.ErrStopped
)

// CodeOf reports the Code classifying err. A nil error is CodeOK. An error
// not otherwise classified is CodeTransport.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var rc interface{ ResultCode() Code }
	if errors.As(err, &rc) {
		return rc.ResultCode()
	}
	switch {
	case errors.Is(err, ErrStalled):
		return CodeStalled
	case errors.Is(err, ErrStopped):
		return CodeStopped
	}
	return CodeTransport
}

// transportError maps a status reported by the server to the corresponding
// error of this package, retaining the original. Other errors are returned
// unmodified.
func transportError(err error) error {
	code, ok := proto.StatusOf(err)
	if !ok {
		return err
	}
	switch code {
	case proto.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrVFONotFound, err)
	case proto.StatusInvalid:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case proto.StatusUnimplemented:
		return fmt.Errorf("%w: %w", ErrUnimplemented, err)
	}
	return err
}

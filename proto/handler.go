// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	"github.com/creachadair/rxctl/rpc"
)

// Parameters and results of the adapters below may be []byte or string, or a
// type whose pointer implements encoding.BinaryUnmarshaler (for parameters)
// or that implements encoding.BinaryMarshaler (for results). The text
// encoding interfaces are accepted as a fallback.

type reqContextKey struct{}

// ContextRequest returns the original request passed to the handler, or nil
// if ctx has no associated request.
func ContextRequest(ctx context.Context) *rpc.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*rpc.Request)
	}
	return nil
}

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to an rpc.Handler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) rpc.Handler {
	return func(ctx context.Context, req *rpc.Request) ([]byte, error) {
		var p P
		if err := unmarshal(req.Data, &p); err != nil {
			return nil, invalidArg(err)
		}
		r, err := f(context.WithValue(ctx, reqContextKey{}, req), p)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// ParamError adapts a function f that accepts parameters of type P and returns
// only an error, to an rpc.Handler.
func ParamError[P any](f func(context.Context, P) error) rpc.Handler {
	return func(ctx context.Context, req *rpc.Request) ([]byte, error) {
		var p P
		if err := unmarshal(req.Data, &p); err != nil {
			return nil, invalidArg(err)
		}
		return nil, f(context.WithValue(ctx, reqContextKey{}, req), p)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to an rpc.Handler.
func ResultError[R any](f func(context.Context) (R, error)) rpc.Handler {
	return func(ctx context.Context, req *rpc.Request) ([]byte, error) {
		r, err := f(context.WithValue(ctx, reqContextKey{}, req))
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// Errorf returns an rpc.ErrorData with the given status code and a formatted
// message. Handlers use it to report a status the client can recognize.
func Errorf(code uint16, msg string, args ...any) error {
	return rpc.ErrorData{Code: code, Message: fmt.Sprintf(msg, args...)}
}

func invalidArg(err error) error { return Errorf(StatusInvalid, "invalid argument: %v", err) }

// unmarshal decodes data into v, which must be a pointer to a []byte or
// string, or implement encoding.BinaryUnmarshaler or TextUnmarshaler. If v
// implements both, BinaryUnmarshaler is preferred.
func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

// marshal encodes v, which must be a []byte or string, or implement
// encoding.BinaryMarshaler or TextMarshaler. A nil pointer to a []byte or
// string encodes as nil.
func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}

// Package middleware wraps request handling in an onion of cross-cutting concerns.
//
// The same HandlerFunc shape is used on both ends of a connection: the client chains
// middleware in front of the transport, the node in front of its cache handlers.
package middleware

import (
	"context"

	"gridclient/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares so the first one given is the outermost:
// Chain(A, B, C)(h) runs A.before, B.before, C.before, h, C.after, B.after, A.after.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

package mux

import (
	"net/http"
	"runtime/debug"
)

// run is the executor state for one resolved chain. The cursor is shared
// by every continuation of the chain, so a step that drives the rest of
// the chain through Context.Next is never followed by a second pass over
// the same steps.
type run struct {
	handlers []Handler
	cursor   int

	// nextCalls counts Context.Next calls; a change across a step tells
	// drive that the step already ran the remainder itself.
	nextCalls int
	last      Result
}

// drive runs steps from the cursor until one stops the chain or the
// chain is exhausted. err is the error pending on entry.
//
// The outcome is Done, Halt or Pass when a step stopped the chain, and
// Next (with the still pending error, if any) when the steps ran out.
func (r *run) drive(c *Context, err error) Result {
	for r.cursor < len(r.handlers) {
		h := r.handlers[r.cursor]
		r.cursor++

		mark := r.nextCalls

		var res Result
		switch h := h.(type) {
		case HandlerFunc:
			if err != nil {
				continue
			}
			res = invoke(func() Result { return h(c) })
		case ErrorHandlerFunc:
			if err == nil {
				continue
			}
			pending := err
			res = invoke(func() Result { return h(c, pending) })
		default:
			continue
		}

		drove := r.nextCalls != mark

		switch res.kind {
		case kindNext:
			if drove && res.err == nil {
				return r.last
			}
			err = res.err
		case kindHalt:
			c.finalize(res.err)
			return Result{kind: kindHalt}
		default:
			return res
		}
	}

	return Result{kind: kindNext, err: err}
}

// next is the continuation handed to steps through Context.Next.
func (r *run) next(c *Context, err error) Result {
	r.nextCalls++
	r.last = r.drive(c, err)
	return r.last
}

// invoke runs one step and turns a panic into a pending error.
// http.ErrAbortHandler keeps its meaning and is re-raised.
func invoke(fn func() Result) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler { //nolint:errorlint
				panic(p)
			}
			res = Fail(&PanicError{Value: p, Stack: debug.Stack()})
		}
	}()

	return fn()
}

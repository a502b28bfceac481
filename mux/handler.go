package mux

// Handler is one element of a dispatch chain. It is implemented by
// HandlerFunc, ErrorHandlerFunc and Chain only; the set is closed so the
// executor can tell the variants apart at registration time.
type Handler interface {
	flatten(dst []Handler) []Handler
}

// HandlerFunc is a plain chain step. It runs only while no error is
// pending and reports what the executor should do next through its Result.
type HandlerFunc func(c *Context) Result

// ErrorHandlerFunc is a chain step that runs only while an error is
// pending. Returning Next clears the error and resumes the plain steps.
type ErrorHandlerFunc func(c *Context, err error) Result

// Chain groups handlers under one value. Chains may nest; they are
// flattened into a single ordered sequence when registered.
type Chain []Handler

func (f HandlerFunc) flatten(dst []Handler) []Handler {
	if f == nil {
		return dst
	}
	return append(dst, f)
}

func (f ErrorHandlerFunc) flatten(dst []Handler) []Handler {
	if f == nil {
		return dst
	}
	return append(dst, f)
}

func (ch Chain) flatten(dst []Handler) []Handler {
	for _, h := range ch {
		if h != nil {
			dst = h.flatten(dst)
		}
	}
	return dst
}

// Flatten returns the handlers as one ordered sequence with nested chains
// expanded and nil entries dropped.
func Flatten(handlers ...Handler) []Handler {
	return Chain(handlers).flatten(nil)
}

type resultKind uint8

const (
	kindNext resultKind = iota
	kindDone
	kindHalt
	kindPass
)

// Result tells the executor how a step finished. The zero value is Next.
type Result struct {
	kind resultKind
	err  error
}

// Next continues with the following step.
func Next() Result {
	return Result{kind: kindNext}
}

// Fail continues with err pending: plain steps are skipped until an
// ErrorHandlerFunc is reached. A nil err is the same as Next.
func Fail(err error) Result {
	return Result{kind: kindNext, err: err}
}

// Done reports that the response was produced and the chain ends here.
func Done() Result {
	return Result{kind: kindDone}
}

// Halt finalizes the response immediately and abandons the remaining
// chain. With a non-nil err the error page for err is written; the error
// never reaches error handlers and is not logged as a failure.
func Halt(err error) Result {
	return Result{kind: kindHalt, err: err}
}

// Pass hands the request back to the enclosing pipeline, which continues
// with its next route. At the outermost pipeline it ends in 404.
func Pass() Result {
	return Result{kind: kindPass}
}

// Err returns the pending error carried by a Fail or Halt result.
func (r Result) Err() error {
	return r.err
}

// IsNext reports whether r continues the chain, with or without an error.
func (r Result) IsNext() bool { return r.kind == kindNext }

// IsDone reports whether r ended the chain with a produced response.
func (r Result) IsDone() bool { return r.kind == kindDone }

// IsHalt reports whether r is a Halt.
func (r Result) IsHalt() bool { return r.kind == kindHalt }

// IsPass reports whether r is a Pass.
func (r Result) IsPass() bool { return r.kind == kindPass }

func (r Result) String() string {
	switch r.kind {
	case kindDone:
		return "done"
	case kindHalt:
		return "halt"
	case kindPass:
		return "pass"
	}
	if r.err != nil {
		return "fail: " + r.err.Error()
	}
	return "next"
}

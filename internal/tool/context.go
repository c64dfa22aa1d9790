package tool

import "context"

// PaymentView is the read-only payment information exposed to handlers.
// It is nil for free calls and calls made with the internal bypass key.
type PaymentView struct {
	Rail         string
	RequiredUSD  float64
	AmountAtomic string
	Currency     string
	Payer        string
}

// Context is the per-invocation object handed to a Handler. It carries the
// validated arguments and the frame channel the runner drains. Emit methods
// never fail; ordering is preserved exactly as emitted.
type Context struct {
	ctx       context.Context
	ToolName  string
	Args      map[string]any
	Payment   *PaymentView
	frames    chan Frame
	cancelled func() bool
}

// NewContext builds a context for one tool call. cancelled reflects the
// request's cooperative cancel signal; it may be nil for untracked calls.
func NewContext(ctx context.Context, name string, args map[string]any, payment *PaymentView, cancelled func() bool) *Context {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &Context{
		ctx:       ctx,
		ToolName:  name,
		Args:      args,
		Payment:   payment,
		frames:    make(chan Frame, frameBuffer),
		cancelled: cancelled,
	}
}

// Ctx returns the request-scoped context for outbound I/O.
func (c *Context) Ctx() context.Context { return c.ctx }

// Cancelled reports whether the client has requested cancellation. Handlers
// should check this at natural suspension points and return promptly.
func (c *Context) Cancelled() bool { return c.cancelled() }

// Progress emits a non-terminal progress frame.
func (c *Context) Progress(current, total int, message string) {
	c.emit(Frame{Type: FrameProgress, Current: current, Total: total, Message: message})
}

// Log emits a non-terminal log frame.
func (c *Context) Log(level, message string) {
	c.emit(Frame{Type: FrameLog, Level: level, Message: message})
}

// Structured emits the terminal success frame.
func (c *Context) Structured(result map[string]any, summary string) {
	c.emit(Frame{Type: FrameStructured, Result: result, Summary: summary})
}

// Error emits a terminal error frame with the given code.
func (c *Context) Error(code, message string) {
	c.emit(Frame{Type: FrameError, Code: code, Message: message})
}

func (c *Context) emit(f Frame) {
	select {
	case c.frames <- f:
	case <-c.ctx.Done():
		// Stream is gone; drop rather than block the handler forever.
	}
}

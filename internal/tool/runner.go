package tool

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// frameBuffer is the per-call frame channel capacity. Handlers that emit
// faster than the stream drains suspend on the channel, which is the yield
// point where cancellation is observed.
const frameBuffer = 16

// Sink receives frames in emission order. A Sink error means the transport
// is gone; the runner abandons forwarding but lets the handler finish.
type Sink func(Frame) error

// Outcome summarizes one completed tool call for telemetry and settlement.
type Outcome struct {
	Success   bool
	Cancelled bool
	ErrorCode string
	Duration  time.Duration
}

// Runner drives tool handlers and enforces the stream contract: frames are
// forwarded in order, exactly one terminal frame reaches the sink, and
// nothing follows it.
type Runner struct {
	logger *zap.Logger
}

// NewRunner returns a Runner logging through the given logger.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes d.Handler with tctx, forwarding frames to sink. It blocks
// until the handler finishes or is abandoned after cancellation. Handler
// panics and missing terminal frames surface as internal Error frames; they
// never propagate to the transport.
func (r *Runner) Run(d Descriptor, tctx *Context, sink Sink) Outcome {
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("handler panic: %v", rec)
			}
			close(tctx.frames)
		}()
		done <- d.Handler(tctx)
	}()

	terminal := false
	var last Frame
	for frame := range tctx.frames {
		if terminal {
			r.logger.Warn("frame emitted after terminal, dropping",
				zap.String("tool", d.Name),
				zap.String("frame_type", string(frame.Type)))
			continue
		}
		if tctx.Cancelled() {
			// Cancellation wins over whatever the handler was about to emit,
			// terminal frames included: the caller must see the cancelled
			// error, never a late success it would be charged for.
			r.abandon(d, tctx, sink)
			return Outcome{Cancelled: true, ErrorCode: ErrCodeCancelled, Duration: time.Since(start)}
		}
		if err := sink(frame); err != nil {
			r.logger.Warn("frame sink failed, abandoning stream",
				zap.String("tool", d.Name), zap.Error(err))
			go drain(tctx.frames)
			return Outcome{ErrorCode: "stream_closed", Duration: time.Since(start)}
		}
		if frame.Terminal() {
			terminal = true
			last = frame
		}
	}

	err := <-done

	if !terminal {
		// Cancellation observed by the handler itself usually shows up as
		// an early return without a terminal frame.
		if tctx.Cancelled() {
			r.emitError(d, sink, ErrCodeCancelled, "tool call cancelled")
			return Outcome{Cancelled: true, ErrorCode: ErrCodeCancelled, Duration: time.Since(start)}
		}
		msg := "handler returned without a terminal frame"
		if err != nil {
			msg = err.Error()
		}
		r.emitError(d, sink, "internal", msg)
		return Outcome{ErrorCode: "internal", Duration: time.Since(start)}
	}

	if err != nil {
		// Terminal already sent; the error is logged but cannot be streamed.
		r.logger.Error("handler returned error after terminal frame",
			zap.String("tool", d.Name), zap.Error(err))
	}

	if last.Type == FrameError {
		return Outcome{ErrorCode: last.Code, Duration: time.Since(start)}
	}
	return Outcome{Success: true, Duration: time.Since(start)}
}

// abandon stops forwarding a cancelled call: the terminal cancelled frame is
// emitted and the handler's remaining frames are drained in the background
// so it can run to completion without blocking.
func (r *Runner) abandon(d Descriptor, tctx *Context, sink Sink) {
	r.logger.Info("tool call cancelled", zap.String("tool", d.Name))
	go drain(tctx.frames)
	r.emitError(d, sink, ErrCodeCancelled, "tool call cancelled")
}

func (r *Runner) emitError(d Descriptor, sink Sink, code, message string) {
	if err := sink(Frame{Type: FrameError, Code: code, Message: message}); err != nil {
		r.logger.Warn("failed to emit terminal error frame",
			zap.String("tool", d.Name), zap.Error(err))
	}
}

func drain(ch <-chan Frame) {
	for range ch {
	}
}

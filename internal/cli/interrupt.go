package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a long-running command on SIGINT/SIGTERM and tells
// the user where to pick up again.
type InterruptHandler struct {
	writer      io.Writer
	cancelFunc  context.CancelFunc
	sessionID   string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer: writer,
	}
}

// HandleInterrupts returns a context that is canceled on interrupt, plus a stop
// function that stops listening for signals.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelFunc = cancel
	h.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigChan:
			h.interrupt()
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
			cancel()
		})
	}
}

// SetSession records the session the command is working on, so the interrupt
// message can point back to it.
func (h *InterruptHandler) SetSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = id
}

// interrupt shows the message once and cancels the context.
func (h *InterruptHandler) interrupt() {
	h.mu.Lock()
	first := !h.interrupted
	h.interrupted = true
	cancel := h.cancelFunc
	if first {
		h.showInterruptMessage()
	}
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// showInterruptMessage writes the interrupt notice. Callers hold h.mu.
func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Interrupted!")

	if h.sessionID != "" {
		msg += "\n" + FormatInfo(fmt.Sprintf("Session %s is still open until it expires.", h.sessionID))
		msg += "\n" + FormatInfo("Resume with: pulse session show "+h.sessionID)
	}
	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

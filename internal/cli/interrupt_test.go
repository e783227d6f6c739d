package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{
			name:   "with custom writer",
			writer: &bytes.Buffer{},
		},
		{
			name:   "with nil writer",
			writer: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestInterrupt_CancelsContext(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, stop := handler.HandleInterrupts(context.Background())
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("Context should not be canceled initially")
	default:
	}

	handler.SetSession("session-1")
	handler.interrupt()

	<-ctx.Done()
	assert.True(t, handler.WasInterrupted())
	outputStr := output.String()
	assert.Contains(t, outputStr, "Interrupted!")
	assert.Contains(t, outputStr, "Session session-1 is still open")
	assert.Contains(t, outputStr, "Resume with: pulse session show session-1")
}

func TestInterrupt_WithoutSession(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	_, stop := handler.HandleInterrupts(context.Background())
	defer stop()

	handler.interrupt()

	outputStr := output.String()
	assert.Contains(t, outputStr, "Interrupted!")
	assert.NotContains(t, outputStr, "Resume with")
}

func TestMultipleInterrupts(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	_, stop := handler.HandleInterrupts(context.Background())
	defer stop()

	handler.interrupt()
	handler.interrupt()

	count := strings.Count(output.String(), "Interrupted!")
	assert.Equal(t, 1, count, "Interrupt message should only be shown once")
}

func TestStop_CancelsWithoutMessage(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, stop := handler.HandleInterrupts(context.Background())
	stop()
	stop()

	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}

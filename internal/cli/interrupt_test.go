package cli

import (
	"bytes"
	"context"
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

func TestNewInterruptHandler_DefaultsWriter(t *testing.T) {
	h := NewInterruptHandler(nil)
	assert.NotNil(t, h.writer)
	assert.False(t, h.WasInterrupted())
}

func TestInterruptHandler_CancelsOnce(t *testing.T) {
	out := &syncBuffer{}
	h := NewInterruptHandler(out)

	ctx := h.HandleInterrupts(context.Background(), "Rerun analyze to resume.")
	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any interrupt")
	default:
	}

	h.interrupt()
	h.interrupt()

	<-ctx.Done()
	assert.True(t, h.WasInterrupted())
	assert.Equal(t, 1, bytes.Count([]byte(out.String()), []byte("Interrupted")))
	assert.Contains(t, out.String(), "Rerun analyze to resume.")
}

func TestInterruptHandler_ParentCancelIsNotAnInterrupt(t *testing.T) {
	out := &syncBuffer{}
	h := NewInterruptHandler(out)

	parent, cancel := context.WithCancel(context.Background())
	ctx := h.HandleInterrupts(parent, "")
	cancel()

	<-ctx.Done()
	assert.False(t, h.WasInterrupted())
	assert.Empty(t, out.String())
}

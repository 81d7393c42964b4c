package core

import (
	"context"
	"fmt"
	"time"
)

// WithExecDeadline bounds a Wasm-kind job's wall-clock execution to
// maxExecSecs, returning Timeout if fn does not return in time. The
// sandbox's internal gas/opcode accounting is an external
// collaborator concern; this is the node-side ceiling that applies
// regardless of what the sandbox itself enforces.
func WithExecDeadline(maxExecSecs uint64, fn func() error) error {
	if maxExecSecs == 0 {
		maxExecSecs = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(maxExecSecs)*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: execution exceeded %d s", ErrTimeout, maxExecSecs)
	}
}

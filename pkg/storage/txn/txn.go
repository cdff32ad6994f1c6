// Package txn provides a compensating-action stack for multi-step
// filesystem mutations. Rename-then-remap sequences register a rollback
// for each forward step so a later failure unwinds the earlier ones.
package txn

import (
	"context"

	"github.com/cirrusfs/cirrus/internal/logger"
)

// Step is one forward action or its compensation.
type Step func(ctx context.Context) error

type pair struct {
	name     string
	forward  Step
	rollback Step
}

// Transaction runs forward steps in order and, on the first failure,
// compensates the already-committed steps in reverse order. Rollbacks are
// expected to be idempotent; a failing rollback is logged and the unwind
// continues.
type Transaction struct {
	operation string
	steps     []pair
}

// New creates a transaction named after the operation it protects. The
// name appears in rollback logs.
func New(operation string) *Transaction {
	return &Transaction{operation: operation}
}

// Add registers a forward step and its compensation. A nil rollback marks
// a step that needs no unwinding.
func (t *Transaction) Add(name string, forward, rollback Step) {
	t.steps = append(t.steps, pair{name: name, forward: forward, rollback: rollback})
}

// Commit runs the forward steps in order. On failure it unwinds the steps
// that already succeeded, newest first, and returns the original error.
func (t *Transaction) Commit(ctx context.Context) error {
	for i, step := range t.steps {
		if err := step.forward(ctx); err != nil {
			logger.WarnCtx(ctx, "Operation step failed, rolling back",
				logger.KeyOperation, t.operation,
				"step", step.name,
				logger.KeyError, err.Error())
			t.unwind(ctx, i-1)
			return err
		}
	}
	return nil
}

func (t *Transaction) unwind(ctx context.Context, from int) {
	for i := from; i >= 0; i-- {
		step := t.steps[i]
		if step.rollback == nil {
			continue
		}
		if err := step.rollback(ctx); err != nil {
			logger.ErrorCtx(ctx, "Rollback step failed",
				logger.KeyOperation, t.operation,
				"step", step.name,
				logger.KeyError, err.Error())
		}
	}
}

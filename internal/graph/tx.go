package graph

import (
	"context"
	"errors"
	"fmt"
)

// withTx runs fn inside a transaction scope. It commits when fn succeeds
// and rolls back exactly once when fn fails or panics. Commit is never
// attempted after a failure.
//
// Errors from fn that are not already classified become persistence
// failures; begin and commit errors are transaction failures. A failed
// rollback is joined to the original cause.
func (g *Graph) withTx(ctx context.Context, op string, id Identity, fn func() error) error {
	if err := g.tx.Begin(ctx); err != nil {
		g.metrics.recordOp(op, "begin_failed")
		return newError(ErrCodeTransaction, op, id, fmt.Errorf("begin: %w", err))
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		// fn panicked; undo before the panic continues.
		if err := g.tx.Rollback(ctx); err != nil {
			g.log.Error("rollback after panic failed", "op", op, "identity", id.String(), "error", err)
		}
		g.metrics.recordOp(op, "rollback")
	}()

	if err := fn(); err != nil {
		finished = true
		cause := err
		if rbErr := g.tx.Rollback(ctx); rbErr != nil {
			cause = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		g.metrics.recordOp(op, "rollback")
		g.log.Debug("operation rolled back", "op", op, "identity", id.String(), "error", err)
		return classify(op, id, cause)
	}

	finished = true
	if err := g.tx.Commit(ctx); err != nil {
		g.metrics.recordOp(op, "rollback")
		return newError(ErrCodeTransaction, op, id, fmt.Errorf("commit: %w", err))
	}
	g.metrics.recordOp(op, "commit")
	return nil
}

// classify keeps the code of an already classified cause.
func classify(op string, id Identity, cause error) error {
	var ge *Error
	if errors.As(cause, &ge) {
		return newError(ge.Code, op, id, cause)
	}
	return newError(ErrCodePersistence, op, id, cause)
}

// Package memtx gives in-memory stores all-or-nothing semantics: writes
// register undo funcs, side effects register commit funcs, and one Runner
// serializes transactions the way a single database would.
package memtx

import (
	"context"
	"sync"
)

type Tx struct {
	undo     []func()
	onCommit []func()
}

// OnRollback registers f to run, in reverse order, if the transaction fails.
func (t *Tx) OnRollback(f func()) { t.undo = append(t.undo, f) }

// OnCommit registers f to run after the transaction succeeds.
func (t *Tx) OnCommit(f func()) { t.onCommit = append(t.onCommit, f) }

type ctxKey struct{}

// From returns the transaction carried by ctx, or nil.
func From(ctx context.Context) *Tx {
	tx, _ := ctx.Value(ctxKey{}).(*Tx)
	return tx
}

type Runner struct {
	mu sync.Mutex
}

// Run executes fn in a transaction. Nested calls join the outer one.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if From(ctx) != nil {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{}
	if err := fn(context.WithValue(ctx, ctxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	for _, f := range tx.onCommit {
		f()
	}
	return nil
}

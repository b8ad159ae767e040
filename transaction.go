package coredb

import (
	"sync"

	"github.com/coredb-io/coredb/logging"
)

// txnController implements the recursive begin/end transaction protocol
// of spec.md §4.4, grounded on transaction_db.go/pessimistic_transaction.go's
// begin/commit/rollback lifecycle and on c4Database::beginTransaction /
// endTransaction's exact recursive-mutex semantics.
//
// Invariant: depth > 0 iff current != nil. mu guards depth and current
// only for the duration of each call; it is not held between Begin and
// End. Go has no portable notion of "the same thread" the way the
// original recursive_mutex does, so the controller does not track which
// goroutine opened the transaction: a Begin from another goroutine while
// a transaction is open nests into it rather than blocking, and any
// goroutine's End decrements the shared depth. A Database's Begin/End
// pairs must therefore be driven by one logical caller at a time
// (spec.md's own non-goal: no concurrent writers to the same database
// instance).
type txnController struct {
	mu      sync.Mutex
	depth   int
	current Transaction
	df      DataFile
	dfLock  sync.Locker
	logger  logging.Logger
}

func newTxnController(df DataFile, dfLock sync.Locker, logger logging.Logger) *txnController {
	return &txnController{df: df, dfLock: dfLock, logger: logging.OrDefault(logger)}
}

// Begin increments the nesting depth, creating the underlying
// Transaction on the outermost call.
func (t *txnController) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.depth++
	if t.depth == 1 {
		t.dfLock.Lock()
		txn, err := t.df.BeginTransaction()
		t.dfLock.Unlock()
		if err != nil {
			t.depth--
			return wrapError(KindIOError, err, "beginning transaction")
		}
		t.current = txn
		t.logger.Debugf(logging.NSTxn + "began outermost transaction")
	}
	return nil
}

// End decrements the nesting depth. On the outermost End, it commits or
// aborts the single underlying Transaction depending on commit.
//
// Nested aborts do NOT latch the outer transaction to abort (spec.md §9,
// Open Question 1, resolved as: preserve this, do not add latching): if
// an inner End(false) runs and a later, outer End(true) runs, the
// outermost decision wins. Only the outermost End's commit argument
// determines the fate of the underlying Transaction.
func (t *txnController) End(commit bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.depth == 0 {
		return false, nil
	}
	t.depth--
	if t.depth == 0 {
		t.dfLock.Lock()
		txn := t.current
		t.current = nil
		var err error
		if !commit {
			err = txn.Abort()
		} else {
			err = txn.Commit()
		}
		t.dfLock.Unlock()
		if err != nil {
			return true, wrapError(KindIOError, err, "ending transaction (commit=%v)", commit)
		}
		t.logger.Debugf(logging.NSTxn+"ended outermost transaction commit=%v", commit)
	}
	return true, nil
}

// InTransaction reports whether depth > 0.
func (t *txnController) InTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth > 0
}

// Current returns the single active Transaction, or nil if not in one.
// Callers must already hold the data-file lock or otherwise know the
// depth cannot change concurrently.
func (t *txnController) Current() Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// mustBeInTransaction returns ErrNotInTransaction unless depth > 0.
func (t *txnController) mustBeInTransaction() error {
	if t.InTransaction() {
		return nil
	}
	return ErrNotInTransaction
}

// mustNotBeInTransaction returns ErrTransactionNotClosed unless depth == 0.
func (t *txnController) mustNotBeInTransaction() error {
	if !t.InTransaction() {
		return nil
	}
	return ErrTransactionNotClosed
}

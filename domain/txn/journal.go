// Package txn provides the undo journal that makes every state-mutating
// operation all-or-nothing. Domain components record an undo closure before
// each mutation; the caller commits on success or rolls back on error.
package txn

// Journal is single-writer. A nil *Journal, or one with no open
// transaction, records nothing.
type Journal struct {
	active bool
	undo   []func()
}

// New returns an idle journal.
func New() *Journal {
	return &Journal{}
}

// Begin opens a transaction. Nested transactions are not supported; Begin
// panics if one is already open.
func (j *Journal) Begin() {
	if j.active {
		panic("txn: Begin inside an open transaction")
	}
	j.active = true
	j.undo = j.undo[:0]
}

// Active reports whether a transaction is open.
func (j *Journal) Active() bool {
	return j != nil && j.active
}

// Record registers fn to run if the transaction rolls back.
func (j *Journal) Record(fn func()) {
	if !j.Active() {
		return
	}
	j.undo = append(j.undo, fn)
}

// Commit closes the transaction keeping all effects.
func (j *Journal) Commit() {
	j.active = false
	clear(j.undo)
	j.undo = j.undo[:0]
}

// Rollback runs the recorded undo closures newest first and closes the
// transaction.
func (j *Journal) Rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.Commit()
}

// Len is the number of undo steps recorded so far.
func (j *Journal) Len() int {
	return len(j.undo)
}

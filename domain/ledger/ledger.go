// Package ledger is the per-user, per-asset balance book. Every operation
// either applies completely or returns an error with no effect.
package ledger

import (
	"sort"

	"github.com/holiman/uint256"

	"hybridbook/domain/market"
	"hybridbook/domain/txn"
	"hybridbook/pkg/errors"
)

// Balance of one account. Available is derived: Total - Locked.
type Balance struct {
	Total  uint256.Int
	Locked uint256.Int
}

// Available returns Total - Locked.
func (b Balance) Available() uint256.Int {
	var a uint256.Int
	a.Sub(&b.Total, &b.Locked)
	return a
}

// Info is the read model returned to callers.
type Info struct {
	Total     uint256.Int
	Locked    uint256.Int
	Available uint256.Int
}

type key struct {
	user  market.UserID
	asset market.Asset
}

// Entry is one account, used by snapshots.
type Entry struct {
	User  market.UserID
	Asset market.Asset
	Balance
}

// Ledger is single-writer.
type Ledger struct {
	balances map[key]*Balance
	journal  *txn.Journal
}

// New returns an empty ledger recording undo steps into j (may be nil).
func New(j *txn.Journal) *Ledger {
	return &Ledger{
		balances: make(map[key]*Balance),
		journal:  j,
	}
}

// Info returns the balance of user in asset; unknown accounts are zero.
func (l *Ledger) Info(user market.UserID, asset market.Asset) Info {
	b := l.balances[key{user, asset}]
	if b == nil {
		return Info{}
	}
	return Info{Total: b.Total, Locked: b.Locked, Available: b.Available()}
}

// Deposit increases total.
func (l *Ledger) Deposit(user market.UserID, asset market.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return errors.WithStack(errors.ErrZeroAmount)
	}
	return l.Credit(user, asset, amount)
}

// Withdraw decreases total; amount must not exceed available.
func (l *Ledger) Withdraw(user market.UserID, asset market.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return errors.WithStack(errors.ErrZeroAmount)
	}
	return l.Debit(user, asset, amount)
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(user market.UserID, asset market.Asset, amount *uint256.Int) error {
	b := l.account(user, asset)
	avail := b.Available()
	if amount.Gt(&avail) {
		return errors.Wrapf(errors.ErrInsufficientAvailableBalance,
			"lock %s %s for %s: available %s", amount.Dec(), asset, user, avail.Dec())
	}
	l.update(user, asset, b, func(b *Balance) { b.Locked.Add(&b.Locked, amount) })
	return nil
}

// Unlock releases min(locked, amount). It never underflows.
func (l *Ledger) Unlock(user market.UserID, asset market.Asset, amount *uint256.Int) {
	b := l.balances[key{user, asset}]
	if b == nil || b.Locked.IsZero() || amount.IsZero() {
		return
	}
	release := *amount
	if release.Gt(&b.Locked) {
		release = b.Locked
	}
	l.update(user, asset, *b, func(b *Balance) { b.Locked.Sub(&b.Locked, &release) })
}

// Credit increases total without the zero check of Deposit. Used to pay
// proceeds and refunds.
func (l *Ledger) Credit(user market.UserID, asset market.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	b := l.account(user, asset)
	var total uint256.Int
	if _, overflow := total.AddOverflow(&b.Total, amount); overflow {
		return errors.Wrapf(errors.ErrOverflow, "credit %s %s to %s", amount.Dec(), asset, user)
	}
	l.update(user, asset, b, func(b *Balance) { b.Total = total })
	return nil
}

// Debit decreases total; amount must not exceed available.
func (l *Ledger) Debit(user market.UserID, asset market.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	b := l.account(user, asset)
	avail := b.Available()
	if amount.Gt(&avail) {
		return errors.Wrapf(errors.ErrInsufficientAvailableBalance,
			"debit %s %s from %s: available %s", amount.Dec(), asset, user, avail.Dec())
	}
	l.update(user, asset, b, func(b *Balance) { b.Total.Sub(&b.Total, amount) })
	return nil
}

// SpendLocked consumes amount that was previously locked, decreasing locked
// and total together. Fails if amount exceeds locked.
func (l *Ledger) SpendLocked(user market.UserID, asset market.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	b := l.account(user, asset)
	if amount.Gt(&b.Locked) {
		return errors.Wrapf(errors.ErrOverflow,
			"spend %s locked %s of %s: locked %s", amount.Dec(), asset, user, b.Locked.Dec())
	}
	l.update(user, asset, b, func(b *Balance) {
		b.Locked.Sub(&b.Locked, amount)
		b.Total.Sub(&b.Total, amount)
	})
	return nil
}

// Balances lists all non-empty accounts ordered by user then asset.
func (l *Ledger) Balances() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for k, b := range l.balances {
		if b.Total.IsZero() && b.Locked.IsZero() {
			continue
		}
		out = append(out, Entry{User: k.user, Asset: k.asset, Balance: *b})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// Restore replaces the ledger contents. It is not journaled.
func (l *Ledger) Restore(entries []Entry) {
	l.balances = make(map[key]*Balance, len(entries))
	for _, e := range entries {
		b := e.Balance
		l.balances[key{e.User, e.Asset}] = &b
	}
}

// Sum returns the sum of totals across all users for asset.
func (l *Ledger) Sum(asset market.Asset) uint256.Int {
	var sum uint256.Int
	for k, b := range l.balances {
		if k.asset == asset {
			sum.Add(&sum, &b.Total)
		}
	}
	return sum
}

func (l *Ledger) account(user market.UserID, asset market.Asset) Balance {
	if b := l.balances[key{user, asset}]; b != nil {
		return *b
	}
	return Balance{}
}

// update applies mutate to the stored account, recording the previous value
// for rollback.
func (l *Ledger) update(user market.UserID, asset market.Asset, prev Balance, mutate func(*Balance)) {
	k := key{user, asset}
	b, existed := l.balances[k]
	if !existed {
		b = &Balance{}
		l.balances[k] = b
	}
	l.journal.Record(func() {
		if !existed {
			delete(l.balances, k)
			return
		}
		*b = prev
	})
	mutate(b)
}

package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hybridbook/domain/market"
	"hybridbook/domain/txn"
	"hybridbook/pkg/errors"
)

const (
	alice market.UserID = "alice"
	bob   market.UserID = "bob"
	usd   market.Asset  = "USD"
	eth   market.Asset  = "ETH"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func assertInfo(t *testing.T, l *Ledger, user market.UserID, asset market.Asset, total, locked uint64) {
	t.Helper()
	info := l.Info(user, asset)
	assert.Equal(t, total, info.Total.Uint64(), "total")
	assert.Equal(t, locked, info.Locked.Uint64(), "locked")
	assert.Equal(t, total-locked, info.Available.Uint64(), "available")
}

func TestDepositWithdraw(t *testing.T) {
	l := New(nil)

	require.NoError(t, l.Deposit(alice, usd, u(100)))
	assertInfo(t, l, alice, usd, 100, 0)

	require.NoError(t, l.Withdraw(alice, usd, u(40)))
	assertInfo(t, l, alice, usd, 60, 0)

	err := l.Withdraw(alice, usd, u(61))
	assert.True(t, errors.Is(err, errors.ErrInsufficientAvailableBalance))
	assertInfo(t, l, alice, usd, 60, 0)

	assert.True(t, errors.Is(l.Deposit(alice, usd, u(0)), errors.ErrZeroAmount))
	assert.True(t, errors.Is(l.Withdraw(alice, usd, u(0)), errors.ErrZeroAmount))
}

func TestDepositOverflow(t *testing.T) {
	l := New(nil)
	top := new(uint256.Int).SetAllOne()

	require.NoError(t, l.Deposit(alice, usd, top))
	err := l.Deposit(alice, usd, u(1))
	assert.True(t, errors.Is(err, errors.ErrOverflow))
	info := l.Info(alice, usd)
	assert.Equal(t, top.Dec(), info.Total.Dec())
}

func TestLockRestrictsWithdraw(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Deposit(alice, usd, u(100)))

	require.NoError(t, l.Lock(alice, usd, u(70)))
	assertInfo(t, l, alice, usd, 100, 70)

	assert.True(t, errors.Is(l.Withdraw(alice, usd, u(31)), errors.ErrInsufficientAvailableBalance))
	assert.True(t, errors.Is(l.Lock(alice, usd, u(31)), errors.ErrInsufficientAvailableBalance))
	assertInfo(t, l, alice, usd, 100, 70)

	require.NoError(t, l.Withdraw(alice, usd, u(30)))
	assertInfo(t, l, alice, usd, 70, 70)
}

func TestUnlockClamps(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Deposit(alice, usd, u(10)))
	require.NoError(t, l.Lock(alice, usd, u(4)))

	l.Unlock(alice, usd, u(9))
	assertInfo(t, l, alice, usd, 10, 0)

	// unknown account is a no-op
	l.Unlock(bob, usd, u(1))
	assertInfo(t, l, bob, usd, 0, 0)
}

func TestSpendLocked(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Deposit(alice, eth, u(5)))
	require.NoError(t, l.Lock(alice, eth, u(3)))

	require.NoError(t, l.SpendLocked(alice, eth, u(2)))
	assertInfo(t, l, alice, eth, 3, 1)

	assert.True(t, errors.Is(l.SpendLocked(alice, eth, u(2)), errors.ErrOverflow))
	assertInfo(t, l, alice, eth, 3, 1)
}

func TestRollbackRestoresBalances(t *testing.T) {
	j := txn.New()
	l := New(j)
	require.NoError(t, l.Deposit(alice, usd, u(50)))

	j.Begin()
	require.NoError(t, l.Lock(alice, usd, u(20)))
	require.NoError(t, l.Credit(bob, eth, u(7)))
	require.NoError(t, l.SpendLocked(alice, usd, u(20)))
	j.Rollback()

	assertInfo(t, l, alice, usd, 50, 0)
	assertInfo(t, l, bob, eth, 0, 0)
	assert.Len(t, l.Balances(), 1)
}

func TestBalancesSortedAndRestore(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Deposit(bob, usd, u(1)))
	require.NoError(t, l.Deposit(alice, usd, u(2)))
	require.NoError(t, l.Deposit(alice, eth, u(3)))
	require.NoError(t, l.Lock(alice, eth, u(1)))

	entries := l.Balances()
	require.Len(t, entries, 3)
	assert.Equal(t, alice, entries[0].User)
	assert.Equal(t, eth, entries[0].Asset)
	assert.Equal(t, alice, entries[1].User)
	assert.Equal(t, usd, entries[1].Asset)
	assert.Equal(t, bob, entries[2].User)

	restored := New(nil)
	restored.Restore(entries)
	assert.Equal(t, entries, restored.Balances())
	assertInfo(t, restored, alice, eth, 3, 1)
}

// Random operation sequences never break locked <= total, and a rolled back
// transaction leaves no trace.
func TestLedgerInvariants(t *testing.T) {
	users := []market.UserID{alice, bob}
	rapid.Check(t, func(t *rapid.T) {
		j := txn.New()
		l := New(j)
		var deposited, withdrawn uint64

		n := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < n; i++ {
			user := rapid.SampledFrom(users).Draw(t, "user")
			amt := u(rapid.Uint64Range(0, 1_000).Draw(t, "amount"))
			rollback := rapid.Bool().Draw(t, "rollback")

			before := l.Balances()
			j.Begin()
			var err error
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				err = l.Deposit(user, usd, amt)
				if err == nil && !rollback {
					deposited += amt.Uint64()
				}
			case 1:
				err = l.Withdraw(user, usd, amt)
				if err == nil && !rollback {
					withdrawn += amt.Uint64()
				}
			case 2:
				err = l.Lock(user, usd, amt)
			case 3:
				l.Unlock(user, usd, amt)
			case 4:
				err = l.SpendLocked(user, usd, amt)
				if err == nil && !rollback {
					withdrawn += amt.Uint64()
				}
			}
			if err != nil || rollback {
				j.Rollback()
				if rollback {
					assert.Equal(t, before, l.Balances())
				}
			} else {
				j.Commit()
			}

			for _, e := range l.Balances() {
				if e.Locked.Gt(&e.Total) {
					t.Fatalf("locked %s exceeds total %s for %s", e.Locked.Dec(), e.Total.Dec(), e.User)
				}
			}
		}
		sum := l.Sum(usd)
		if sum.Uint64() != deposited-withdrawn {
			t.Fatalf("sum %d, want %d", sum.Uint64(), deposited-withdrawn)
		}
	})
}

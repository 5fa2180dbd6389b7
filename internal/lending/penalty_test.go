package lending

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReturned(l *memLedger, memberID string, due, returned time.Time) int64 {
	return l.addLoan(Loan{
		MemberID:   memberID,
		BookID:     1,
		BorrowedAt: due.AddDate(0, 0, -14),
		DueAt:      due,
		ReturnedAt: sql.NullTime{Time: returned, Valid: true},
		Status:     StatusReturned,
	})
}

func evaluate(t *testing.T, ledger *memLedger, p Policy, memberID string, asOf time.Time) Evaluation {
	t.Helper()
	var ev Evaluation
	err := ledger.WithinReadTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		ev, err = NewEvaluator(p).Evaluate(ctx, tx, memberID, asOf)
		return err
	})
	require.NoError(t, err)
	return ev
}

func TestEvaluateGraceBoundary(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	due := asOf.AddDate(0, 0, -30)

	t.Run("延滞ちょうど1日はセーフ", func(t *testing.T) {
		ledger := newMemLedger()
		seedReturned(ledger, "m1", due, due.AddDate(0, 0, 1))

		ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
		assert.Equal(t, 0, ev.PenaltyCount)
		assert.Equal(t, 5, ev.MaxAllowedLoans)
		assert.Nil(t, ev.PenaltyExpiry)
	})

	t.Run("延滞2日でペナルティ", func(t *testing.T) {
		ledger := newMemLedger()
		seedReturned(ledger, "m1", due, due.AddDate(0, 0, 2))

		ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
		assert.Equal(t, 1, ev.PenaltyCount)
		assert.Equal(t, 4, ev.MaxAllowedLoans)
		assert.Equal(t, 2, ev.TotalDaysOverdue)
	})

	t.Run("時刻は無関係で日付部分だけ比較する", func(t *testing.T) {
		ledger := newMemLedger()
		// 期限 23:59 → 翌日 00:01 返却は DATEDIFF=1 でセーフ
		d := time.Date(2026, 7, 1, 23, 59, 0, 0, time.UTC)
		seedReturned(ledger, "m1", d, time.Date(2026, 7, 2, 0, 1, 0, 0, time.UTC))

		ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
		assert.Equal(t, 0, ev.PenaltyCount)
	})
}

func TestEvaluateFloorAtOne(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ledger := newMemLedger()
	for i := 0; i < 6; i++ {
		due := asOf.AddDate(0, 0, -60+i)
		seedReturned(ledger, "m1", due, due.AddDate(0, 0, 5))
	}

	ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
	assert.Equal(t, 6, ev.PenaltyCount)
	assert.Equal(t, 1, ev.MaxAllowedLoans, "上限は1冊を下回らない")
}

func TestEvaluateWindow(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ledger := newMemLedger()

	// 4ヶ月前の返却は窓の外
	oldDue := asOf.AddDate(0, -4, -10)
	seedReturned(ledger, "m1", oldDue, oldDue.AddDate(0, 0, 10))
	// 1ヶ月前の返却は窓の中
	newDue := asOf.AddDate(0, -1, -10)
	seedReturned(ledger, "m1", newDue, newDue.AddDate(0, 0, 10))

	ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
	assert.Equal(t, 1, ev.PenaltyCount)
	assert.Len(t, ev.Events, 1)
}

func TestEvaluateExpiry(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ledger := newMemLedger()

	due1 := asOf.AddDate(0, 0, -70)
	seedReturned(ledger, "m1", due1, due1.AddDate(0, 0, 5))
	due2 := asOf.AddDate(0, 0, -20)
	latest := due2.AddDate(0, 0, 7)
	seedReturned(ledger, "m1", due2, latest)

	ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
	require.NotNil(t, ev.PenaltyExpiry)
	assert.Equal(t, latest.AddDate(0, 3, 0), *ev.PenaltyExpiry, "失効は最新のペナルティ返却 + 窓の月数")
}

func TestEvaluateDisabled(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ledger := newMemLedger()
	due := asOf.AddDate(0, 0, -30)
	seedReturned(ledger, "m1", due, due.AddDate(0, 0, 10))

	p := DefaultPolicy()
	p.PenaltiesEnabled = false

	ev := evaluate(t, ledger, p, "m1", asOf)
	assert.Equal(t, 0, ev.PenaltyCount)
	assert.Equal(t, 5, ev.MaxAllowedLoans)
	assert.Nil(t, ev.PenaltyExpiry)
}

func TestEvaluateIgnoresOtherMembers(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ledger := newMemLedger()
	due := asOf.AddDate(0, 0, -30)
	seedReturned(ledger, "other", due, due.AddDate(0, 0, 10))

	ev := evaluate(t, ledger, DefaultPolicy(), "m1", asOf)
	assert.Equal(t, 0, ev.PenaltyCount)
}

func TestDateDiffDays(t *testing.T) {
	cases := []struct {
		a, b time.Time
		want int
	}{
		{time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC), time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC), 1},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), -1},
		{time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC), 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, dateDiffDays(c.a, c.b))
	}
}

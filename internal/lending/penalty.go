package lending

import (
	"context"
	"time"
)

// Policy は貸出ポリシー。config/config.yaml の lending: セクションから構築する。
// GraceDays の「1日は猶予」は元システムの運用値であって業務上の根拠は不明のため、
// ハードコードせず設定値として持つ。
type Policy struct {
	PenaltiesEnabled    bool
	MaxLoans            int // ペナルティなしの上限冊数
	GraceDays           int // 延滞がこの日数を超えた返却だけペナルティ
	PenaltyWindowMonths int // 直近何ヶ月の返却を数えるか
	LoanPeriodDays      int // 貸出期間（due = borrow + N days）
}

func DefaultPolicy() Policy {
	return Policy{
		PenaltiesEnabled:    true,
		MaxLoans:            5,
		GraceDays:           1,
		PenaltyWindowMonths: 3,
		LoanPeriodDays:      14,
	}
}

// PenaltyEvent は1件のペナルティ（猶予超過の返却）
type PenaltyEvent struct {
	LoanID      int64     `json:"loan_id"`
	BookID      int64     `json:"book_id"`
	DaysOverdue int       `json:"days_overdue"`
	ReturnedAt  time.Time `json:"returned_at"`
}

// Evaluation は評価結果。penalty_expiry は表示用の参考値。
type Evaluation struct {
	PenaltyCount     int
	MaxAllowedLoans  int
	TotalDaysOverdue int
	PenaltyExpiry    *time.Time
	Events           []PenaltyEvent
}

// Evaluator はペナルティ評価器。履歴の純関数であり結果をキャッシュしない
// （新しい返却で結果が変わるため、毎回 Tx 内の最新状態から計算する）。
type Evaluator struct {
	policy Policy
}

func NewEvaluator(p Policy) *Evaluator { return &Evaluator{policy: p} }

// Evaluate は asOf から遡る期間内の返却済み貸出を走査し、
// 猶予日数を超えて返却された件数ぶん上限を減らす。下限は1冊。
func (e *Evaluator) Evaluate(ctx context.Context, tx Tx, memberID string, asOf time.Time) (Evaluation, error) {
	ev := Evaluation{MaxAllowedLoans: e.policy.MaxLoans}

	// ペナルティ無効構成（旧システムの penalty_system 不在時と同じ挙動）
	if !e.policy.PenaltiesEnabled {
		return ev, nil
	}

	since := asOf.AddDate(0, -e.policy.PenaltyWindowMonths, 0)
	loans, err := tx.ReturnedLoansSince(ctx, memberID, since)
	if err != nil {
		return Evaluation{}, err
	}

	var latest time.Time
	for i := range loans {
		l := &loans[i]
		if !l.ReturnedAt.Valid {
			continue
		}
		// DATEDIFF 相当: 日付部分の差。ちょうど GraceDays の延滞はセーフ（厳密に超過のみ）
		d := dateDiffDays(l.ReturnedAt.Time, l.DueAt)
		if d <= e.policy.GraceDays {
			continue
		}
		ev.PenaltyCount++
		ev.TotalDaysOverdue += d
		ev.Events = append(ev.Events, PenaltyEvent{
			LoanID:      l.LoanID,
			BookID:      l.BookID,
			DaysOverdue: d,
			ReturnedAt:  l.ReturnedAt.Time,
		})
		if l.ReturnedAt.Time.After(latest) {
			latest = l.ReturnedAt.Time
		}
	}

	max := e.policy.MaxLoans - ev.PenaltyCount
	if max < 1 {
		max = 1
	}
	ev.MaxAllowedLoans = max

	if ev.PenaltyCount > 0 {
		exp := latest.AddDate(0, e.policy.PenaltyWindowMonths, 0)
		ev.PenaltyExpiry = &exp
	}
	return ev, nil
}

// dateDiffDays は a と b の日付部分の差（a - b, 日）。MySQL の DATEDIFF と同じ。
func dateDiffDays(a, b time.Time) int {
	au, bu := a.UTC(), b.UTC()
	ad := time.Date(au.Year(), au.Month(), au.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(bu.Year(), bu.Month(), bu.Day(), 0, 0, 0, 0, time.UTC)
	return int(ad.Sub(bd).Hours() / 24)
}

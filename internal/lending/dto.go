package lending

import "time"

// 借出リクエスト（会員本人）
type BorrowRequest struct {
	BookID int64 `json:"book_id" binding:"required"`
}

// 管理者の貸出登録リクエスト
type AdminCreateLoanRequest struct {
	MemberID string `json:"member_id" binding:"required"`
	BookID   int64  `json:"book_id" binding:"required"`
	// "2006-01-02" 形式。省略時は規定の貸出期間
	DueDate *string `json:"due_date,omitempty"`
}

// 管理者の貸出編集リクエスト。省略されたフィールドは変更しない。
type EditLoanRequest struct {
	MemberID *string `json:"member_id,omitempty"`
	BookID   *int64  `json:"book_id,omitempty"`
	DueDate  *string `json:"due_date,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// 貸出レスポンス
type LoanResponse struct {
	LoanID     int64      `json:"loan_id"`
	LoanULID   string     `json:"loan_ulid"`
	MemberID   string     `json:"member_id"`
	BookID     int64      `json:"book_id"`
	Title      *string    `json:"title,omitempty"`
	Author     *string    `json:"author,omitempty"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Status     LoanStatus `json:"status"`
	Overdue    bool       `json:"overdue"`
}

// 返却レスポンス。DaysLate > 0 なら遅延返却の通知付き。
type ReturnResponse struct {
	LoanID     int64     `json:"loan_id"`
	LoanULID   string    `json:"loan_ulid"`
	BookID     int64     `json:"book_id"`
	ReturnedAt time.Time `json:"returned_at"`
	DaysLate   int       `json:"days_late"`
	Late       bool      `json:"late"`
}

// 借出資格レスポンス
type EligibilityResponse struct {
	MemberID         string         `json:"member_id"`
	CurrentLoans     int            `json:"current_loans"`
	MaxAllowed       int            `json:"max_allowed"`
	PenaltyCount     int            `json:"penalty_count"`
	TotalDaysOverdue int            `json:"total_days_overdue"`
	PenaltyExpiry    *time.Time     `json:"penalty_expiry,omitempty"`
	Penalties        []PenaltyEvent `json:"penalties"`
}

type LoanListResponse struct {
	Items []LoanResponse `json:"items"`
	Total int64          `json:"total"`
}

func buildLoanResponse(l *Loan, now time.Time) LoanResponse {
	resp := LoanResponse{
		LoanID:     l.LoanID,
		LoanULID:   l.LoanULID,
		MemberID:   l.MemberID,
		BookID:     l.BookID,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		Status:     l.Status,
		Overdue:    l.Overdue(now),
	}
	if l.ReturnedAt.Valid {
		val := l.ReturnedAt.Time
		resp.ReturnedAt = &val
	}
	return resp
}

func buildEligibilityResponse(rep *EligibilityReport) EligibilityResponse {
	resp := EligibilityResponse{
		MemberID:         rep.MemberID,
		CurrentLoans:     rep.CurrentLoans,
		MaxAllowed:       rep.Evaluation.MaxAllowedLoans,
		PenaltyCount:     rep.Evaluation.PenaltyCount,
		TotalDaysOverdue: rep.Evaluation.TotalDaysOverdue,
		PenaltyExpiry:    rep.Evaluation.PenaltyExpiry,
		Penalties:        rep.Evaluation.Events,
	}
	if resp.Penalties == nil {
		resp.Penalties = []PenaltyEvent{}
	}
	return resp
}

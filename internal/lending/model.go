package lending

import (
	"database/sql"
	"time"
)

// LoanStatus は貸出の状態。borrowed / returned の2状態のみ。
// 「延滞」は状態ではなく status=borrowed かつ due_date < now の導出ビュー。
type LoanStatus string

const (
	StatusBorrowed LoanStatus = "borrowed"
	StatusReturned LoanStatus = "returned"
)

func (s LoanStatus) Valid() bool {
	return s == StatusBorrowed || s == StatusReturned
}

// Book は books テーブルの1行（蔵書と在庫カウンタ）
type Book struct {
	BookID            int64
	Title             string
	Author            string
	Quantity          int // 総冊数
	AvailableQuantity int // 貸出可能冊数。0 <= available <= quantity を常に維持する
}

// Loan は loans テーブルの1行
type Loan struct {
	LoanID     int64
	LoanULID   string
	MemberID   string
	BookID     int64
	BorrowedAt time.Time
	DueAt      time.Time
	ReturnedAt sql.NullTime // 返却まで NULL
	Status     LoanStatus
}

// Overdue: 貸出中かつ期限超過なら true（導出値、保存しない）
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == StatusBorrowed && now.After(l.DueAt)
}

// LoanView は一覧表示用（books を JOIN したタイトル付き）
type LoanView struct {
	Loan
	Title  string
	Author string
}

// 貸出一覧の検索条件
type LoanFilter struct {
	MemberID    *string
	BookID      *int64
	Status      *LoanStatus
	OverdueOnly bool
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}

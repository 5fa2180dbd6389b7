package lending

import (
	"context"
	"time"
)

// Tx は台帳ストアの1トランザクション内で使える操作。
// 資格チェックの読み取りと Loan/Book の書き込みは必ず同一 Tx 上で行うこと
// （check-then-mutate の競合を直列化するため）。
type Tx interface {
	// BookForUpdate は在庫行をロックして取得する（SELECT ... FOR UPDATE 相当）
	BookForUpdate(ctx context.Context, bookID int64) (*Book, error)
	// ApplyBookDelta は available_quantity に delta を加算する。
	// 結果が [0, quantity] を外れる場合は適用せず INVENTORY_INVARIANT を返す。
	ApplyBookDelta(ctx context.Context, bookID int64, delta int) error

	InsertLoan(ctx context.Context, l *Loan) error
	LoanForUpdate(ctx context.Context, loanID int64) (*Loan, error)
	LoanByULID(ctx context.Context, ulid string) (*Loan, error)
	UpdateLoan(ctx context.Context, l *Loan) error
	DeleteLoan(ctx context.Context, loanID int64) error

	CountActiveLoans(ctx context.Context, memberID string) (int, error)
	// ReturnedLoansSince は status=returned かつ return_date >= since の貸出履歴
	ReturnedLoansSince(ctx context.Context, memberID string, since time.Time) ([]Loan, error)
	ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanView, int64, error)
}

// Ledger は台帳ストア本体。fn が nil を返せばコミット、エラーなら全ロールバック。
type Ledger interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	WithinReadTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

package lending

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	ulid "github.com/oklog/ulid/v2"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Actor は操作主体。セッション等の暗黙状態ではなく、全操作に明示的に渡す。
type Actor struct {
	MemberID string
	Role     string
}

const RoleAdmin = "admin"

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// ===== Service本体（貸出トランザクションコーディネータ） =====

// TRANSIENT 失敗は一度だけ短い待ちで再試行してから呼び出し元へ返す
const (
	transientRetryAttempts = 2
	transientRetryDelay    = 50 * time.Millisecond
)

type Service struct {
	ledger Ledger
	eval   *Evaluator
	policy Policy
	clock  Clock
	id     IDGen
}

func NewService(conn *sql.DB, policy Policy) *Service {
	return newService(NewSQLLedger(conn), policy, realClock{}, ulidGen{})
}

func newService(ledger Ledger, policy Policy, clock Clock, id IDGen) *Service {
	return &Service{
		ledger: ledger,
		eval:   NewEvaluator(policy),
		policy: policy,
		clock:  clock,
		id:     id,
	}
}

// withinUnit は1操作=1トランザクションの実行経路。
// 在庫カウンタの更新経路を1本に保つため、全操作がここを通る。
func (s *Service) withinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt < transientRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(transientRetryDelay):
			case <-ctx.Done():
				return ErrTransient(ctx.Err().Error())
			}
		}
		err = s.ledger.WithinTx(ctx, fn)
		if err == nil || !isTransientErr(err) {
			return err
		}
	}
	return err
}

func (s *Service) applyDeltas(ctx context.Context, tx Tx, deltas []InventoryDelta) error {
	for _, d := range deltas {
		if err := tx.ApplyBookDelta(ctx, d.BookID, d.Delta); err != nil {
			return err
		}
	}
	return nil
}

// Borrow: 会員自身の借出。資格チェックと書き込みを同一Txで行う。
func (s *Service) Borrow(ctx context.Context, actor Actor, bookID int64) (*Loan, error) {
	if actor.MemberID == "" {
		return nil, ErrInvalid("member_id is required")
	}
	if bookID <= 0 {
		return nil, ErrInvalid("book_id must be > 0")
	}

	idStr, err := s.id.New()
	if err != nil {
		return nil, err
	}

	var out *Loan
	err = s.withinUnit(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()

		// 在庫行を先にロックして check-then-mutate を直列化する
		book, err := tx.BookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}

		ev, err := s.eval.Evaluate(ctx, tx, actor.MemberID, now)
		if err != nil {
			return err
		}
		active, err := tx.CountActiveLoans(ctx, actor.MemberID)
		if err != nil {
			return err
		}
		if active >= ev.MaxAllowedLoans {
			return ErrLimitReached(ev.MaxAllowedLoans)
		}
		if book.AvailableQuantity <= 0 {
			return ErrNoCopies()
		}

		loan := &Loan{
			LoanULID:   idStr,
			MemberID:   actor.MemberID,
			BookID:     bookID,
			BorrowedAt: now,
			DueAt:      now.AddDate(0, 0, s.policy.LoanPeriodDays),
			Status:     StatusBorrowed,
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return err
		}
		if err := s.applyDeltas(ctx, tx, borrowDeltas(bookID)); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReturnOutcome は返却結果。DaysLate > 0 のときは遅延通知（情報のみ、遷移は妨げない）。
type ReturnOutcome struct {
	Loan     *Loan
	DaysLate int
}

// Return: 返却。本人の貸出のみ。管理者は任意の貸出を返却処理できる。
func (s *Service) Return(ctx context.Context, actor Actor, loanID int64) (*ReturnOutcome, error) {
	if loanID <= 0 {
		return nil, ErrInvalid("loan_id must be > 0")
	}

	var out ReturnOutcome
	err := s.withinUnit(ctx, func(ctx context.Context, tx Tx) error {
		loan, err := tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.MemberID != actor.MemberID && !actor.IsAdmin() {
			return ErrNotOwner()
		}
		if err := validateReturn(loan); err != nil {
			return err
		}

		now := s.clock.Now()
		loan.Status = StatusReturned
		loan.ReturnedAt = sql.NullTime{Time: now, Valid: true}
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		if err := s.applyDeltas(ctx, tx, returnDeltas(loan.BookID)); err != nil {
			return err
		}
		out = ReturnOutcome{Loan: loan, DaysLate: daysLate(loan.DueAt, now)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AdminCreate: 管理者による貸出登録。期日は任意指定（ゼロ値なら規定の貸出期間）。
func (s *Service) AdminCreate(ctx context.Context, actor Actor, memberID string, bookID int64, dueAt time.Time) (*Loan, error) {
	if !actor.IsAdmin() {
		return nil, ErrNotOwner()
	}
	if memberID == "" {
		return nil, ErrInvalid("member_id is required")
	}
	if bookID <= 0 {
		return nil, ErrInvalid("book_id must be > 0")
	}

	idStr, err := s.id.New()
	if err != nil {
		return nil, err
	}

	var out *Loan
	err = s.withinUnit(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()

		book, err := tx.BookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		ev, err := s.eval.Evaluate(ctx, tx, memberID, now)
		if err != nil {
			return err
		}
		active, err := tx.CountActiveLoans(ctx, memberID)
		if err != nil {
			return err
		}
		if active >= ev.MaxAllowedLoans {
			return ErrLimitReached(ev.MaxAllowedLoans)
		}
		if book.AvailableQuantity <= 0 {
			return ErrNoCopies()
		}

		due := dueAt
		if due.IsZero() {
			due = now.AddDate(0, 0, s.policy.LoanPeriodDays)
		}
		loan := &Loan{
			LoanULID:   idStr,
			MemberID:   memberID,
			BookID:     bookID,
			BorrowedAt: now,
			DueAt:      due,
			Status:     StatusBorrowed,
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return err
		}
		if err := s.applyDeltas(ctx, tx, borrowDeltas(bookID)); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EditLoanFields は管理者編集の変更内容。nil のフィールドは現状維持。
type EditLoanFields struct {
	MemberID *string
	BookID   *int64
	DueAt    *time.Time
	Status   *LoanStatus
}

// AdminEdit: 貸出レコードの管理者編集。
// 旧・新の (book, status) の組に応じて在庫を整合させる。途中で失敗したら全戻し。
func (s *Service) AdminEdit(ctx context.Context, actor Actor, loanID int64, f EditLoanFields) error {
	if !actor.IsAdmin() {
		return ErrNotOwner()
	}
	if loanID <= 0 {
		return ErrInvalid("loan_id must be > 0")
	}
	if f.Status != nil && !f.Status.Valid() {
		return ErrInvalid("status must be 'borrowed' or 'returned'")
	}
	if f.MemberID != nil && *f.MemberID == "" {
		return ErrInvalid("member_id must not be empty")
	}
	if f.BookID != nil && *f.BookID <= 0 {
		return ErrInvalid("book_id must be > 0")
	}

	return s.withinUnit(ctx, func(ctx context.Context, tx Tx) error {
		loan, err := tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}

		oldBookID, oldStatus := loan.BookID, loan.Status

		newBookID := oldBookID
		if f.BookID != nil {
			newBookID = *f.BookID
		}
		newStatus := oldStatus
		if f.Status != nil {
			newStatus = *f.Status
		}

		deltas := editDeltas(oldBookID, oldStatus, newBookID, newStatus)

		// 引き当てが発生する場合は新書籍をロックして在庫を確認する
		for _, d := range deltas {
			if d.Delta >= 0 {
				continue
			}
			book, err := tx.BookForUpdate(ctx, d.BookID)
			if err != nil {
				return err
			}
			if book.AvailableQuantity <= 0 {
				return ErrNoCopies()
			}
		}

		now := s.clock.Now()
		if f.MemberID != nil {
			loan.MemberID = *f.MemberID
		}
		loan.BookID = newBookID
		if f.DueAt != nil {
			loan.DueAt = *f.DueAt
		}
		if newStatus != oldStatus {
			loan.Status = newStatus
			if newStatus == StatusReturned {
				loan.ReturnedAt = sql.NullTime{Time: now, Valid: true}
			} else {
				loan.ReturnedAt = sql.NullTime{}
			}
		}

		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		return s.applyDeltas(ctx, tx, deltas)
	})
}

// AdminDelete: 貸出レコードの削除。borrowed なら先に在庫へ1冊戻す。
func (s *Service) AdminDelete(ctx context.Context, actor Actor, loanID int64) error {
	if !actor.IsAdmin() {
		return ErrNotOwner()
	}
	if loanID <= 0 {
		return ErrInvalid("loan_id must be > 0")
	}

	return s.withinUnit(ctx, func(ctx context.Context, tx Tx) error {
		loan, err := tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if err := s.applyDeltas(ctx, tx, deleteDeltas(loan)); err != nil {
			return err
		}
		return tx.DeleteLoan(ctx, loan.LoanID)
	})
}

// EligibilityReport は現在の借出資格
type EligibilityReport struct {
	MemberID     string
	CurrentLoans int
	Evaluation   Evaluation
}

// Eligibility: 現在の貸出数とペナルティ評価。読み取り専用Txで最新状態を見る。
func (s *Service) Eligibility(ctx context.Context, memberID string) (*EligibilityReport, error) {
	if memberID == "" {
		return nil, ErrInvalid("member_id is required")
	}

	var rep EligibilityReport
	err := s.ledger.WithinReadTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		ev, err := s.eval.Evaluate(ctx, tx, memberID, now)
		if err != nil {
			return err
		}
		active, err := tx.CountActiveLoans(ctx, memberID)
		if err != nil {
			return err
		}
		rep = EligibilityReport{MemberID: memberID, CurrentLoans: active, Evaluation: ev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListLoans: 一覧（管理画面・本人の貸出一覧の両方で使う）
func (s *Service) ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanView, int64, error) {
	var (
		out   []LoanView
		total int64
	)
	err := s.ledger.WithinReadTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, total, err = tx.ListLoans(ctx, f, p)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetLoan: ULID指定の単一取得。本人か管理者のみ。
func (s *Service) GetLoan(ctx context.Context, actor Actor, loanULID string) (*Loan, error) {
	if loanULID == "" {
		return nil, ErrInvalid("loan ulid is required")
	}
	var out *Loan
	err := s.ledger.WithinReadTx(ctx, func(ctx context.Context, tx Tx) error {
		loan, err := tx.LoanByULID(ctx, loanULID)
		if err != nil {
			return err
		}
		if loan.MemberID != actor.MemberID && !actor.IsAdmin() {
			return ErrNotOwner()
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"

	"HPL-backend/internal/platform/db"
)

// SQLLedger は MySQL 上の台帳ストア実装。
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(conn *sql.DB) *SQLLedger { return &SQLLedger{db: conn} }

func (l *SQLLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := db.RunInTx(ctx, l.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, &sqlTx{q: q})
	})
	return mapStoreError(err)
}

func (l *SQLLedger) WithinReadTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := db.ReadOnly(ctx, l.db, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, &sqlTx{q: q})
	})
	return mapStoreError(err)
}

// mapStoreError はドライバのエラーを型付きエラーへ寄せる。
// デッドロック等は TRANSIENT（リトライ可）、接続断は UNAVAILABLE。
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*APIError); ok {
		return err
	}
	if db.IsTransient(err) {
		return ErrTransient(err.Error())
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1452 { // FK violation (存在しない会員・書籍)
		return ErrInvalid("referenced member or book does not exist")
	}
	if err == sql.ErrConnDone {
		return ErrUnavailable(err.Error())
	}
	return err
}

type sqlTx struct {
	q db.DBTX
}

const loanColumns = `id, loan_ulid, user_id, book_id, borrow_date, due_date, return_date, status`

func (t *sqlTx) BookForUpdate(ctx context.Context, bookID int64) (*Book, error) {
	const q = `SELECT id, title, author, quantity, available_quantity FROM books WHERE id = ? FOR UPDATE`
	var b Book
	err := t.q.QueryRowContext(ctx, q, bookID).Scan(&b.BookID, &b.Title, &b.Author, &b.Quantity, &b.AvailableQuantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound("book not found")
		}
		return nil, err
	}
	return &b, nil
}

func (t *sqlTx) ApplyBookDelta(ctx context.Context, bookID int64, delta int) error {
	// 0 <= available + delta <= quantity を満たすときだけ更新する。
	// 事前検証を通った後にここで弾かれるのは不変条件の破れなので、クランプせず中断する。
	const q = `
	UPDATE books
	SET available_quantity = available_quantity + ?
	WHERE id = ?
	  AND available_quantity + ? >= 0
	  AND available_quantity + ? <= quantity`
	res, err := t.q.ExecContext(ctx, q, delta, bookID, delta, delta)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrInventoryInvariant(fmt.Sprintf("book %d: delta %+d would leave available_quantity out of [0, quantity]", bookID, delta))
	}
	return nil
}

func (t *sqlTx) InsertLoan(ctx context.Context, l *Loan) error {
	const q = `
	INSERT INTO loans (loan_ulid, user_id, book_id, borrow_date, due_date, return_date, status)
	VALUES (?, ?, ?, ?, ?, NULL, ?)`
	res, err := t.q.ExecContext(ctx, q, l.LoanULID, l.MemberID, l.BookID, l.BorrowedAt, l.DueAt, string(l.Status))
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	l.LoanID = id
	return nil
}

func (t *sqlTx) LoanForUpdate(ctx context.Context, loanID int64) (*Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE id = ? FOR UPDATE`
	return t.scanLoan(t.q.QueryRowContext(ctx, q, loanID))
}

func (t *sqlTx) LoanByULID(ctx context.Context, ulid string) (*Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE loan_ulid = ?`
	return t.scanLoan(t.q.QueryRowContext(ctx, q, ulid))
}

func (t *sqlTx) scanLoan(row *sql.Row) (*Loan, error) {
	var l Loan
	var status string
	err := row.Scan(&l.LoanID, &l.LoanULID, &l.MemberID, &l.BookID, &l.BorrowedAt, &l.DueAt, &l.ReturnedAt, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound("loan not found")
		}
		return nil, err
	}
	l.Status = LoanStatus(status)
	return &l, nil
}

func (t *sqlTx) UpdateLoan(ctx context.Context, l *Loan) error {
	const q = `
	UPDATE loans
	SET user_id = ?, book_id = ?, due_date = ?, return_date = ?, status = ?
	WHERE id = ?`
	res, err := t.q.ExecContext(ctx, q, l.MemberID, l.BookID, l.DueAt, l.ReturnedAt, string(l.Status), l.LoanID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff > 1 {
		return ErrInternal("update touched multiple loan rows")
	}
	return nil
}

func (t *sqlTx) DeleteLoan(ctx context.Context, loanID int64) error {
	const q = `DELETE FROM loans WHERE id = ?`
	res, err := t.q.ExecContext(ctx, q, loanID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrNotFound("loan not found")
	}
	return nil
}

func (t *sqlTx) CountActiveLoans(ctx context.Context, memberID string) (int, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE user_id = ? AND status = 'borrowed'`
	var n int
	if err := t.q.QueryRowContext(ctx, q, memberID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *sqlTx) ReturnedLoansSince(ctx context.Context, memberID string, since time.Time) ([]Loan, error) {
	q := `SELECT ` + loanColumns + `
	FROM loans
	WHERE user_id = ?
	  AND status = 'returned'
	  AND return_date IS NOT NULL
	  AND return_date >= ?
	ORDER BY return_date DESC`

	rows, err := t.q.QueryContext(ctx, q, memberID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		var l Loan
		var status string
		if err := rows.Scan(&l.LoanID, &l.LoanULID, &l.MemberID, &l.BookID, &l.BorrowedAt, &l.DueAt, &l.ReturnedAt, &status); err != nil {
			return nil, err
		}
		l.Status = LoanStatus(status)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *sqlTx) ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanView, int64, error) {
	where, args := buildLoanWhere(f)

	sb := strings.Builder{}
	sb.WriteString(`
	SELECT l.id, l.loan_ulid, l.user_id, l.book_id, l.borrow_date, l.due_date, l.return_date, l.status,
	       b.title, b.author
	FROM loans l
	JOIN books b ON b.id = l.book_id`)
	sb.WriteString(where)

	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	sb.WriteString(fmt.Sprintf(` ORDER BY l.borrow_date %s`, order))
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, p.Limit, p.Offset)

	rows, err := t.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []LoanView
	for rows.Next() {
		var v LoanView
		var status string
		if err := rows.Scan(
			&v.LoanID, &v.LoanULID, &v.MemberID, &v.BookID, &v.BorrowedAt, &v.DueAt, &v.ReturnedAt, &status,
			&v.Title, &v.Author,
		); err != nil {
			return nil, 0, err
		}
		v.Status = LoanStatus(status)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	cntWhere, cntArgs := buildLoanWhere(f)
	var total int64
	cq := `SELECT COUNT(*) FROM loans l JOIN books b ON b.id = l.book_id` + cntWhere
	if err := t.q.QueryRowContext(ctx, cq, cntArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func buildLoanWhere(f LoanFilter) (string, []any) {
	sb := strings.Builder{}
	sb.WriteString(` WHERE 1=1`)
	args := []any{}
	if f.MemberID != nil {
		sb.WriteString(` AND l.user_id = ?`)
		args = append(args, *f.MemberID)
	}
	if f.BookID != nil {
		sb.WriteString(` AND l.book_id = ?`)
		args = append(args, *f.BookID)
	}
	if f.Status != nil {
		sb.WriteString(` AND l.status = ?`)
		args = append(args, string(*f.Status))
	}
	if f.OverdueOnly {
		sb.WriteString(` AND l.status = 'borrowed' AND l.due_date < UTC_TIMESTAMP()`)
	}
	return sb.String(), args
}

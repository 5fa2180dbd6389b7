package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"HPL-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

const bookColumns = `id, title, author, isbn, genre, description, quantity, available_quantity, published_year, publisher`

func (s *Store) Insert(ctx context.Context, in CreateBookRequest) (*Book, error) {
	const q = `
	INSERT INTO books (title, author, isbn, genre, description, quantity, available_quantity, published_year, publisher)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var year any
	if in.PublishedYear != nil {
		year = *in.PublishedYear
	}
	res, err := s.db.ExecContext(ctx, q,
		in.Title, in.Author,
		strOrNil(in.ISBN), strOrNil(in.Genre), strOrNil(in.Description),
		in.Quantity, in.Quantity, // 登録時は全冊貸出可能
		year, strOrNil(in.Publisher),
	)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.GetByID(ctx, id)
}

func (s *Store) GetByID(ctx context.Context, bookID int64) (*Book, error) {
	return getBookTx(ctx, s.db, bookID, false)
}

func getBookTx(ctx context.Context, q db.DBTX, bookID int64, forUpdate bool) (*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var b Book
	err := q.QueryRowContext(ctx, query, bookID).Scan(
		&b.BookID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.Description,
		&b.Quantity, &b.AvailableQuantity, &b.PublishedYear, &b.Publisher,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound("book not found")
		}
		return nil, err
	}
	return &b, nil
}

func updateBookTx(ctx context.Context, q db.DBTX, b *Book) error {
	const query = `
	UPDATE books
	SET title = ?, author = ?, isbn = ?, genre = ?, description = ?,
	    quantity = ?, available_quantity = ?, published_year = ?, publisher = ?
	WHERE id = ?`
	res, err := q.ExecContext(ctx, query,
		b.Title, b.Author, b.ISBN, b.Genre, b.Description,
		b.Quantity, b.AvailableQuantity, b.PublishedYear, b.Publisher,
		b.BookID,
	)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected() // 変更なし更新は許容
	return nil
}

func deleteBookTx(ctx context.Context, q db.DBTX, bookID int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrNotFound("book not found")
	}
	return nil
}

func countActiveLoansTx(ctx context.Context, q db.DBTX, bookID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND status = 'borrowed'`, bookID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, f BookSearchQuery, p Page) ([]Book, int64, error) {
	where := strings.Builder{}
	where.WriteString(` WHERE 1=1`)
	args := []any{}
	if f.Keyword != "" {
		kw := "%" + f.Keyword + "%"
		where.WriteString(` AND (title LIKE ? OR author LIKE ? OR isbn LIKE ? OR genre LIKE ? OR description LIKE ?)`)
		args = append(args, kw, kw, kw, kw, kw)
	}
	if f.Genre != nil {
		where.WriteString(` AND genre = ?`)
		args = append(args, *f.Genre)
	}

	order := "ASC"
	if strings.ToLower(p.Order) == "desc" {
		order = "DESC"
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	q := `SELECT ` + bookColumns + ` FROM books` + where.String() +
		fmt.Sprintf(` ORDER BY title %s LIMIT ? OFFSET ?`, order)
	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(
			&b.BookID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.Description,
			&b.Quantity, &b.AvailableQuantity, &b.PublishedYear, &b.Publisher,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) LowInventory(ctx context.Context, threshold int) ([]Book, error) {
	q := `SELECT ` + bookColumns + ` FROM books WHERE available_quantity <= ? ORDER BY available_quantity`
	rows, err := s.db.QueryContext(ctx, q, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(
			&b.BookID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.Description,
			&b.Quantity, &b.AvailableQuantity, &b.PublishedYear, &b.Publisher,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func strOrNil(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

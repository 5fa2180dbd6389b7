package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"

	"HPL-backend/internal/platform/db"
)

// ===== Error model (lending と同型) =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}

type Service struct {
	db    *sql.DB
	store *Store
}

func NewService(conn *sql.DB) *Service { return &Service{db: conn, store: NewStore(conn)} }

// 蔵書登録。available_quantity は quantity と同数で開始する。
func (s *Service) CreateBook(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Author) == "" {
		return BookResponse{}, ErrInvalid("title and author are required")
	}
	if in.Quantity < 0 {
		return BookResponse{}, ErrInvalid("quantity must be >= 0")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}

	book, err := s.store.Insert(ctx, in)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) {
			if me.Number == 1062 { // duplicate key (isbn UNIQUE)
				return BookResponse{}, ErrConflict("isbn already exists")
			}
		}
		return BookResponse{}, err
	}
	return buildBookResponse(book), nil
}

// 蔵書編集。総冊数の変更時は貸出中の冊数を差し引いて available を再導出する。
// 在庫カウンタの貸出・返却による増減は lending 側の専権なのでここでは触らない。
func (s *Service) UpdateBook(ctx context.Context, bookID int64, in UpdateBookRequest) (BookResponse, error) {
	if bookID <= 0 {
		return BookResponse{}, ErrInvalid("book_id must be > 0")
	}
	if in.Quantity != nil && *in.Quantity < 0 {
		return BookResponse{}, ErrInvalid("quantity must be >= 0")
	}

	var out *Book
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		cur, err := getBookTx(ctx, tx, bookID, true)
		if err != nil {
			return err
		}

		next := *cur
		applyStr := func(dst *string, v *string) {
			if v != nil {
				*dst = *v
			}
		}
		applyStr(&next.Title, in.Title)
		applyStr(&next.Author, in.Author)
		applyNullStr(&next.ISBN, in.ISBN)
		applyNullStr(&next.Genre, in.Genre)
		applyNullStr(&next.Description, in.Description)
		applyNullStr(&next.Publisher, in.Publisher)
		if in.PublishedYear != nil {
			next.PublishedYear = sql.NullInt64{Int64: int64(*in.PublishedYear), Valid: true}
		}

		if in.Quantity != nil {
			// 貸出中の冊数 = 総数 - 在庫。新しい総数から引いて在庫を作り直す（下限0）
			loanedOut := cur.Quantity - cur.AvailableQuantity
			avail := *in.Quantity - loanedOut
			if avail < 0 {
				avail = 0
			}
			next.Quantity = *in.Quantity
			next.AvailableQuantity = avail
		}

		if err := updateBookTx(ctx, tx, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return BookResponse{}, ErrConflict("isbn already exists")
		}
		return BookResponse{}, err
	}
	return buildBookResponse(out), nil
}

// 蔵書削除。貸出中の冊があるうちは削除できない。
func (s *Service) DeleteBook(ctx context.Context, bookID int64) error {
	if bookID <= 0 {
		return ErrInvalid("book_id must be > 0")
	}

	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		active, err := countActiveLoansTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrConflict("book has active loans")
		}
		return deleteBookTx(ctx, tx, bookID)
	})
}

func (s *Service) GetBook(ctx context.Context, bookID int64) (BookResponse, error) {
	book, err := s.store.GetByID(ctx, bookID)
	if err != nil {
		return BookResponse{}, err
	}
	return buildBookResponse(book), nil
}

func (s *Service) ListBooks(ctx context.Context, q BookSearchQuery, p Page) (BookListResponse, error) {
	items, total, err := s.store.List(ctx, q, p)
	if err != nil {
		return BookListResponse{}, err
	}
	resp := BookListResponse{Items: make([]BookResponse, 0, len(items)), Total: total}
	for i := range items {
		resp.Items = append(resp.Items, buildBookResponse(&items[i]))
	}
	return resp, nil
}

// 在庫僅少レポート（available <= threshold）
func (s *Service) LowInventory(ctx context.Context, threshold int) ([]BookResponse, error) {
	if threshold < 0 {
		return nil, ErrInvalid("threshold must be >= 0")
	}
	items, err := s.store.LowInventory(ctx, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]BookResponse, 0, len(items))
	for i := range items {
		out = append(out, buildBookResponse(&items[i]))
	}
	return out, nil
}

func applyNullStr(dst *sql.NullString, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = sql.NullString{}
		return
	}
	*dst = sql.NullString{String: *v, Valid: true}
}

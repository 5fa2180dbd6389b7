package lending

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memLedger はテスト用のインメモリ台帳。
// WithinTx はスナップショット上で fn を走らせ、成功時のみ差し替える
// （SQL側と同じ「エラーなら全ロールバック」の見え方にする）。
type memLedger struct {
	mu     sync.Mutex
	books  map[int64]*Book
	loans  map[int64]*Loan
	nextID int64

	// beginErrs は WithinTx 開始時に先頭から1つずつ返す（再試行テスト用）
	beginErrs []error
	// opErrs は操作名ごとに一度だけ返すエラー（ロールバックテスト用）
	opErrs map[string]error
}

func newMemLedger() *memLedger {
	return &memLedger{
		books:  map[int64]*Book{},
		loans:  map[int64]*Loan{},
		opErrs: map[string]error{},
	}
}

func (m *memLedger) addBook(b Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := b
	m.books[b.BookID] = &cp
}

func (m *memLedger) addLoan(l Loan) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.LoanID = m.nextID
	if l.LoanULID == "" {
		l.LoanULID = fmt.Sprintf("SEEDULID%08d", l.LoanID)
	}
	cp := l
	m.loans[l.LoanID] = &cp
	return l.LoanID
}

func (m *memLedger) book(id int64) Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.books[id]
}

func (m *memLedger) loan(id int64) (Loan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return Loan{}, false
	}
	return *l, true
}

func (m *memLedger) loanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loans)
}

func (m *memLedger) snapshot() (map[int64]*Book, map[int64]*Loan) {
	books := make(map[int64]*Book, len(m.books))
	for id, b := range m.books {
		cp := *b
		books[id] = &cp
	}
	loans := make(map[int64]*Loan, len(m.loans))
	for id, l := range m.loans {
		cp := *l
		loans[id] = &cp
	}
	return books, loans
}

func (m *memLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.beginErrs) > 0 {
		err := m.beginErrs[0]
		m.beginErrs = m.beginErrs[1:]
		if err != nil {
			return err
		}
	}

	books, loans := m.snapshot()
	tx := &memTx{l: m, books: books, loans: loans, nextID: m.nextID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.books, m.loans, m.nextID = tx.books, tx.loans, tx.nextID
	return nil
}

func (m *memLedger) WithinReadTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	books, loans := m.snapshot()
	return fn(ctx, &memTx{l: m, books: books, loans: loans, nextID: m.nextID})
}

type memTx struct {
	l      *memLedger
	books  map[int64]*Book
	loans  map[int64]*Loan
	nextID int64
}

func (t *memTx) opErr(name string) error {
	if err, ok := t.l.opErrs[name]; ok {
		delete(t.l.opErrs, name)
		return err
	}
	return nil
}

func (t *memTx) BookForUpdate(ctx context.Context, bookID int64) (*Book, error) {
	if err := t.opErr("BookForUpdate"); err != nil {
		return nil, err
	}
	b, ok := t.books[bookID]
	if !ok {
		return nil, ErrNotFound("book not found")
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) ApplyBookDelta(ctx context.Context, bookID int64, delta int) error {
	if err := t.opErr("ApplyBookDelta"); err != nil {
		return err
	}
	b, ok := t.books[bookID]
	if !ok {
		return ErrNotFound("book not found")
	}
	next := b.AvailableQuantity + delta
	if next < 0 || next > b.Quantity {
		return ErrInventoryInvariant(fmt.Sprintf("book %d: available would become %d (quantity %d)", bookID, next, b.Quantity))
	}
	b.AvailableQuantity = next
	return nil
}

func (t *memTx) InsertLoan(ctx context.Context, l *Loan) error {
	if err := t.opErr("InsertLoan"); err != nil {
		return err
	}
	t.nextID++
	l.LoanID = t.nextID
	cp := *l
	t.loans[l.LoanID] = &cp
	return nil
}

func (t *memTx) LoanForUpdate(ctx context.Context, loanID int64) (*Loan, error) {
	if err := t.opErr("LoanForUpdate"); err != nil {
		return nil, err
	}
	l, ok := t.loans[loanID]
	if !ok {
		return nil, ErrNotFound("loan not found")
	}
	cp := *l
	return &cp, nil
}

func (t *memTx) LoanByULID(ctx context.Context, ulid string) (*Loan, error) {
	for _, l := range t.loans {
		if l.LoanULID == ulid {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound("loan not found")
}

func (t *memTx) UpdateLoan(ctx context.Context, l *Loan) error {
	if err := t.opErr("UpdateLoan"); err != nil {
		return err
	}
	if _, ok := t.loans[l.LoanID]; !ok {
		return ErrNotFound("loan not found")
	}
	cp := *l
	t.loans[l.LoanID] = &cp
	return nil
}

func (t *memTx) DeleteLoan(ctx context.Context, loanID int64) error {
	if err := t.opErr("DeleteLoan"); err != nil {
		return err
	}
	if _, ok := t.loans[loanID]; !ok {
		return ErrNotFound("loan not found")
	}
	delete(t.loans, loanID)
	return nil
}

func (t *memTx) CountActiveLoans(ctx context.Context, memberID string) (int, error) {
	n := 0
	for _, l := range t.loans {
		if l.MemberID == memberID && l.Status == StatusBorrowed {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ReturnedLoansSince(ctx context.Context, memberID string, since time.Time) ([]Loan, error) {
	var out []Loan
	for _, l := range t.loans {
		if l.MemberID != memberID || l.Status != StatusReturned || !l.ReturnedAt.Valid {
			continue
		}
		if l.ReturnedAt.Time.Before(since) {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

func (t *memTx) ListLoans(ctx context.Context, f LoanFilter, p Page) ([]LoanView, int64, error) {
	now := testNow
	var out []LoanView
	for _, l := range t.loans {
		if f.MemberID != nil && l.MemberID != *f.MemberID {
			continue
		}
		if f.BookID != nil && l.BookID != *f.BookID {
			continue
		}
		if f.Status != nil && l.Status != *f.Status {
			continue
		}
		if f.OverdueOnly && !l.Overdue(now) {
			continue
		}
		v := LoanView{Loan: *l}
		if b, ok := t.books[l.BookID]; ok {
			v.Title, v.Author = b.Title, b.Author
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	total := int64(len(out))
	if p.Offset > 0 {
		if p.Offset >= len(out) {
			out = nil
		} else {
			out = out[p.Offset:]
		}
	}
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, total, nil
}

// ===== テスト用 Clock / IDGen =====

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("TESTULID%08d", g.n), nil
}

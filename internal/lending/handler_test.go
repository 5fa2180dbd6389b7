package lending

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HPL-backend/internal/platform/auth"
)

// newTestRouter: RequireAuth の代わりに actor を直接 context へ入れる
func newTestRouter(ledger *memLedger, actor Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.CtxUserIDKey, actor.MemberID)
		c.Set(auth.CtxRoleKey, actor.Role)
	})

	svc := newService(ledger, DefaultPolicy(), fixedClock{t: testNow}, &seqIDGen{})
	RegisterRoutes(r.Group("/"), svc)
	RegisterAdminRoutes(r.Group("/admin"), svc)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerBorrow(t *testing.T) {
	t.Run("201 と Location ヘッダ", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.addBook(Book{BookID: 1, Quantity: 2, AvailableQuantity: 2})
		r := newTestRouter(ledger, member("m1"))

		w := doJSON(t, r, http.MethodPost, "/loans", `{"book_id": 1}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp LoanResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "m1", resp.MemberID)
		assert.Equal(t, StatusBorrowed, resp.Status)
		assert.Equal(t, "/loans/"+resp.LoanULID, w.Header().Get("Location"))
		assert.Equal(t, 1, ledger.book(1).AvailableQuantity)
	})

	t.Run("在庫切れは 409 NO_COPIES_AVAILABLE", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.addBook(Book{BookID: 1, Quantity: 1, AvailableQuantity: 0})
		r := newTestRouter(ledger, member("m1"))

		w := doJSON(t, r, http.MethodPost, "/loans", `{"book_id": 1}`)
		require.Equal(t, http.StatusConflict, w.Code)

		var e errorDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
		assert.Equal(t, CodeNoCopies, e.Error.Code)
	})

	t.Run("book_id 欠落は 400", func(t *testing.T) {
		r := newTestRouter(newMemLedger(), member("m1"))
		w := doJSON(t, r, http.MethodPost, "/loans", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlerReturn(t *testing.T) {
	ledger := newMemLedger()
	ledger.addBook(Book{BookID: 1, Quantity: 1, AvailableQuantity: 0})
	id := ledger.addLoan(Loan{MemberID: "m1", BookID: 1, Status: StatusBorrowed,
		BorrowedAt: testNow.AddDate(0, 0, -20), DueAt: testNow.AddDate(0, 0, -3)})
	r := newTestRouter(ledger, member("m1"))

	w := doJSON(t, r, http.MethodPost, "/loans/1/return", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ReturnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.LoanID)
	assert.Equal(t, 3, resp.DaysLate)
	assert.True(t, resp.Late)
}

func TestHandlerListLoansScoping(t *testing.T) {
	ledger := newMemLedger()
	ledger.addBook(Book{BookID: 1, Title: "Botchan", Quantity: 5, AvailableQuantity: 3})
	ledger.addLoan(Loan{MemberID: "m1", BookID: 1, Status: StatusBorrowed,
		BorrowedAt: testNow, DueAt: testNow.AddDate(0, 0, 14)})
	ledger.addLoan(Loan{MemberID: "m2", BookID: 1, Status: StatusBorrowed,
		BorrowedAt: testNow, DueAt: testNow.AddDate(0, 0, 14)})

	t.Run("非管理者は他人を指定しても自分のみ", func(t *testing.T) {
		r := newTestRouter(ledger, member("m1"))
		w := doJSON(t, r, http.MethodGet, "/loans?member_id=m2", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp LoanListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, int64(1), resp.Total)
		assert.Equal(t, "m1", resp.Items[0].MemberID)
	})

	t.Run("管理者は全件も他人指定も見られる", func(t *testing.T) {
		r := newTestRouter(ledger, admin)

		w := doJSON(t, r, http.MethodGet, "/loans", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp LoanListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(2), resp.Total)

		w = doJSON(t, r, http.MethodGet, "/loans?member_id=m2", "")
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, int64(1), resp.Total)
		assert.Equal(t, "m2", resp.Items[0].MemberID)
	})
}

func TestHandlerEligibility(t *testing.T) {
	ledger := newMemLedger()
	r := newTestRouter(ledger, member("m1"))

	w := doJSON(t, r, http.MethodGet, "/eligibility", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp EligibilityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "m1", resp.MemberID)
	assert.Equal(t, 5, resp.MaxAllowed)
	assert.NotNil(t, resp.Penalties)
}

func TestHandlerAdminCreate(t *testing.T) {
	ledger := newMemLedger()
	ledger.addBook(Book{BookID: 1, Quantity: 2, AvailableQuantity: 2})
	r := newTestRouter(ledger, admin)

	w := doJSON(t, r, http.MethodPost, "/admin/loans", `{"member_id":"m1","book_id":1,"due_date":"2026-09-15"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp LoanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "m1", resp.MemberID)
	assert.Equal(t, "2026-09-15", resp.DueAt.Format("2006-01-02"))

	w = doJSON(t, r, http.MethodPost, "/admin/loans", `{"member_id":"m1","book_id":1,"due_date":"15-09-2026"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerAdminEditAndDelete(t *testing.T) {
	ledger := newMemLedger()
	ledger.addBook(Book{BookID: 1, Quantity: 2, AvailableQuantity: 1})
	ledger.addLoan(Loan{MemberID: "m1", BookID: 1, Status: StatusBorrowed,
		BorrowedAt: testNow, DueAt: testNow.AddDate(0, 0, 14)})
	r := newTestRouter(ledger, admin)

	w := doJSON(t, r, http.MethodPut, "/admin/loans/1", `{"status":"returned"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, ledger.book(1).AvailableQuantity)

	w = doJSON(t, r, http.MethodDelete, "/admin/loans/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := ledger.loan(1)
	assert.False(t, ok)

	w = doJSON(t, r, http.MethodDelete, "/admin/loans/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

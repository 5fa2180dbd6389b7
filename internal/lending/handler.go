package lending

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"HPL-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes: 会員向けルート（RequireAuth 配下にぶら下げる）
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// POST /loans (借出)
	r.POST("/loans", h.Borrow)
	// POST /loans/:loan_id/return (返却)
	r.POST("/loans/:loan_id/return", h.Return)
	// GET /loans (本人の一覧。管理者は member_id で任意指定可)
	r.GET("/loans", h.ListLoans)
	// GET /loans/:loan_id (ULID指定詳細)
	r.GET("/loans/:loan_id", h.GetLoan)
	// GET /eligibility (本人の借出資格)
	r.GET("/eligibility", h.MyEligibility)
}

// RegisterAdminRoutes: 管理者向けルート（RequireRole("admin") 配下）
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/loans", h.AdminCreate)
	r.PUT("/loans/:loan_id", h.AdminEdit)
	r.DELETE("/loans/:loan_id", h.AdminDelete)
	r.GET("/eligibility/:member_id", h.Eligibility)
}

func actorFrom(c *gin.Context) Actor {
	return Actor{
		MemberID: c.GetString(auth.CtxUserIDKey),
		Role:     c.GetString(auth.CtxRoleKey),
	}
}

// ---------- handlers ----------

// POST /loans
func (h *Handler) Borrow(c *gin.Context) {
	var req BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	loan, err := h.svc.Borrow(c.Request.Context(), actorFrom(c), req.BookID)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}

	c.Header("Location", "/loans/"+loan.LoanULID)
	c.JSON(http.StatusCreated, buildLoanResponse(loan, time.Now().UTC()))
}

// POST /loans/:loan_id/return
func (h *Handler) Return(c *gin.Context) {
	loanID, err := strconv.ParseInt(c.Param("loan_id"), 10, 64)
	if err != nil || loanID <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "loan_id must be a positive integer"))
		return
	}

	out, err := h.svc.Return(c.Request.Context(), actorFrom(c), loanID)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}

	resp := ReturnResponse{
		LoanID:     out.Loan.LoanID,
		LoanULID:   out.Loan.LoanULID,
		BookID:     out.Loan.BookID,
		ReturnedAt: out.Loan.ReturnedAt.Time,
		DaysLate:   out.DaysLate,
		Late:       out.DaysLate > 0,
	}
	c.JSON(http.StatusOK, resp)
}

// GET /loans
func (h *Handler) ListLoans(c *gin.Context) {
	actor := actorFrom(c)

	f := LoanFilter{}
	// 非管理者は常に自分の貸出のみ
	member := actor.MemberID
	if actor.IsAdmin() {
		if v := c.Query("member_id"); v != "" {
			member = v
		} else {
			member = ""
		}
	}
	if member != "" {
		f.MemberID = &member
	}
	if v := c.Query("book_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			f.BookID = &id
		}
	}
	if v := c.Query("status"); v != "" {
		st := LoanStatus(v)
		if st.Valid() {
			f.Status = &st
		}
	}
	if v := c.Query("overdue"); v == "true" || v == "1" {
		f.OverdueOnly = true
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}

	items, total, err := h.svc.ListLoans(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}

	now := time.Now().UTC()
	resp := LoanListResponse{Items: make([]LoanResponse, 0, len(items)), Total: total}
	for i := range items {
		v := &items[i]
		lr := buildLoanResponse(&v.Loan, now)
		title, author := v.Title, v.Author
		lr.Title = &title
		lr.Author = &author
		resp.Items = append(resp.Items, lr)
	}
	c.JSON(http.StatusOK, resp)
}

// GET /loans/:loan_id
func (h *Handler) GetLoan(c *gin.Context) {
	loan, err := h.svc.GetLoan(c.Request.Context(), actorFrom(c), c.Param("loan_id"))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, buildLoanResponse(loan, time.Now().UTC()))
}

// GET /eligibility
func (h *Handler) MyEligibility(c *gin.Context) {
	rep, err := h.svc.Eligibility(c.Request.Context(), actorFrom(c).MemberID)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, buildEligibilityResponse(rep))
}

// GET /eligibility/:member_id (admin)
func (h *Handler) Eligibility(c *gin.Context) {
	rep, err := h.svc.Eligibility(c.Request.Context(), c.Param("member_id"))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, buildEligibilityResponse(rep))
}

// POST /admin/loans
func (h *Handler) AdminCreate(c *gin.Context) {
	var req AdminCreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	var due time.Time
	if req.DueDate != nil && *req.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid due_date format, expected YYYY-MM-DD"))
			return
		}
		due = parsed
	}

	loan, err := h.svc.AdminCreate(c.Request.Context(), actorFrom(c), req.MemberID, req.BookID, due)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}

	c.Header("Location", "/loans/"+loan.LoanULID)
	c.JSON(http.StatusCreated, buildLoanResponse(loan, time.Now().UTC()))
}

// PUT /admin/loans/:loan_id
func (h *Handler) AdminEdit(c *gin.Context) {
	loanID, err := strconv.ParseInt(c.Param("loan_id"), 10, 64)
	if err != nil || loanID <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "loan_id must be a positive integer"))
		return
	}

	var req EditLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}

	fields := EditLoanFields{
		MemberID: req.MemberID,
		BookID:   req.BookID,
	}
	if req.DueDate != nil && *req.DueDate != "" {
		parsed, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid due_date format, expected YYYY-MM-DD"))
			return
		}
		fields.DueAt = &parsed
	}
	if req.Status != nil {
		st := LoanStatus(*req.Status)
		fields.Status = &st
	}

	if err := h.svc.AdminEdit(c.Request.Context(), actorFrom(c), loanID, fields); err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "loan updated"})
}

// DELETE /admin/loans/:loan_id
func (h *Handler) AdminDelete(c *gin.Context) {
	loanID, err := strconv.ParseInt(c.Param("loan_id"), 10, 64)
	if err != nil || loanID <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "loan_id must be a positive integer"))
		return
	}

	if err := h.svc.AdminDelete(c.Request.Context(), actorFrom(c), loanID); err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "loan deleted"})
}

// ---------- helpers ----------

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	if api, ok := err.(*APIError); ok {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeInternal, err.Error())
}

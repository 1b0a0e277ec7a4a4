package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"finance-saas-go/internal/ai"
	"finance-saas-go/internal/ledger"
	"finance-saas-go/internal/logger"
	"finance-saas-go/internal/models"
	"finance-saas-go/internal/subscription"
)

type transactionInput struct {
	Type        string           `json:"type"`
	Category    string           `json:"category"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Date        string           `json:"date"`
	Tags        []string         `json:"tags"`
	IsRecurring bool             `json:"isRecurring"`
}

type transactionPatch struct {
	Type        *string          `json:"type"`
	Category    *string          `json:"category"`
	Amount      *decimal.Decimal `json:"amount"`
	Description *string          `json:"description"`
	Date        *string          `json:"date"`
	Tags        *[]string        `json:"tags"`
	IsRecurring *bool            `json:"isRecurring"`
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "invalid_id", "invalid id")
		return 0, false
	}
	return uint(id), true
}

// parseRange reads startDate and endDate. A date-only endDate covers that
// whole day.
func parseRange(c *gin.Context, verr *ledger.ValidationError) (start, end *time.Time) {
	if v := strings.TrimSpace(c.Query("startDate")); v != "" {
		t, err := ledger.ParseDate(v)
		if err != nil {
			verr.Add("startDate", err.Error())
		} else {
			start = &t
		}
	}
	if v := strings.TrimSpace(c.Query("endDate")); v != "" {
		t, err := ledger.ParseDate(v)
		if err != nil {
			verr.Add("endDate", err.Error())
		} else {
			if len(v) == len("2006-01-02") {
				t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
			}
			end = &t
		}
	}
	return start, end
}

// POST /api/transactions
func (s *Server) createTransaction(c *gin.Context) {
	var input transactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	acct := account(c)

	verr := &ledger.ValidationError{}
	tx := &models.Transaction{
		AccountID:   acct.ID,
		Type:        models.TransactionType(strings.ToLower(strings.TrimSpace(input.Type))),
		Category:    models.Category(strings.ToLower(strings.TrimSpace(input.Category))),
		Description: strings.TrimSpace(input.Description),
		Tags:        models.StringArray(input.Tags),
		IsRecurring: input.IsRecurring,
		Date:        s.now().UTC(),
	}
	if input.Amount == nil {
		verr.Add("amount", "is required")
	} else {
		tx.Amount = *input.Amount
	}
	if input.Date != "" {
		d, err := ledger.ParseDate(input.Date)
		if err != nil {
			verr.Add("date", err.Error())
		} else {
			tx.Date = d
		}
	}
	if err := verr.Merge(ledger.Validate(tx)); err != nil {
		s.respondError(c, err)
		return
	}
	if err := verr.Err(); err != nil {
		s.respondError(c, err)
		return
	}

	if err := s.ledger.Insert(c.Request.Context(), tx, subscription.Admit(s.now())); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(201, tx)
}

// GET /api/transactions
func (s *Server) listTransactions(c *gin.Context) {
	verr := &ledger.ValidationError{}
	f := ledger.Filter{}

	if t := strings.ToLower(strings.TrimSpace(c.Query("type"))); t != "" && t != "all" {
		f.Type = models.TransactionType(t)
		if !f.Type.Valid() {
			verr.Add("type", "must be income or expense")
		}
	}
	if cat := strings.ToLower(strings.TrimSpace(c.Query("category"))); cat != "" {
		f.Category = models.Category(cat)
		if !f.Category.Valid() {
			verr.Add("category", "is not a known category")
		}
	}
	f.Start, f.End = parseRange(c, verr)

	page := ledger.Page{}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			verr.Add("limit", "must be a positive integer")
		}
		page.Limit = n
	}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			verr.Add("page", "must be a positive integer")
		}
		page.Page = n
	}
	_ = verr.Merge(page.Validate())
	if err := verr.Err(); err != nil {
		s.respondError(c, err)
		return
	}

	res, err := s.ledger.Find(c.Request.Context(), account(c).ID, f, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, res)
}

// GET /api/transactions/:id
func (s *Server) getTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	tx, err := s.ledger.Get(c.Request.Context(), id, account(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, tx)
}

// PUT /api/transactions/:id
func (s *Server) updateTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var input transactionPatch
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	verr := &ledger.ValidationError{}
	patch := ledger.Patch{
		Amount:      input.Amount,
		Description: input.Description,
		Tags:        input.Tags,
		IsRecurring: input.IsRecurring,
	}
	if input.Type != nil {
		t := models.TransactionType(strings.ToLower(strings.TrimSpace(*input.Type)))
		patch.Type = &t
	}
	if input.Category != nil {
		cat := models.Category(strings.ToLower(strings.TrimSpace(*input.Category)))
		patch.Category = &cat
	}
	if input.Date != nil {
		d, err := ledger.ParseDate(*input.Date)
		if err != nil {
			verr.Add("date", err.Error())
		}
		patch.Date = &d
	}
	if err := verr.Err(); err != nil {
		s.respondError(c, err)
		return
	}

	tx, err := s.ledger.Update(c.Request.Context(), id, account(c).ID, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, tx)
}

// DELETE /api/transactions/:id
func (s *Server) deleteTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.ledger.Delete(c.Request.Context(), id, account(c).ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"message": "Transaction deleted"})
}

// formFile reads the named multipart file within the upload limit. It
// writes the error response itself and reports false on failure.
func (s *Server) formFile(c *gin.Context, field, missing string) (string, string, []byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.uploadLimit()+1024*1024)
	fh, err := c.FormFile(field)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
			return "", "", nil, false
		}
		badRequest(c, "no_file", missing)
		return "", "", nil, false
	}
	if fh.Size > s.uploadLimit() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large"})
		return "", "", nil, false
	}

	f, err := fh.Open()
	if err != nil {
		badRequest(c, "invalid_file", "failed to read file")
		return "", "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "invalid_file", "failed to read file")
		return "", "", nil, false
	}

	mime := fh.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return fh.Filename, mime, data, true
}

func isCSV(filename, mime string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return true
	}
	mime = strings.ToLower(mime)
	return strings.HasPrefix(mime, "text/csv") || strings.HasPrefix(mime, "application/vnd.ms-excel")
}

// POST /api/transactions/import-csv
func (s *Server) importCSV(c *gin.Context) {
	name, mime, data, ok := s.formFile(c, "file", "No file uploaded")
	if !ok {
		return
	}
	if !isCSV(name, mime) {
		badRequest(c, "invalid_file_type", "Only CSV files are accepted")
		return
	}

	acct := account(c)
	imp, err := ledger.ParseCSV(strings.NewReader(string(data)), acct.ID, s.now())
	if err != nil {
		s.respondError(c, err)
		return
	}

	n, err := s.ledger.InsertBatch(c.Request.Context(), acct.ID, imp.Transactions, subscription.Admit(s.now()))
	if err != nil {
		s.respondError(c, err)
		return
	}

	rowErrors := imp.Errors
	if rowErrors == nil {
		rowErrors = []ledger.RowError{}
	}
	log := logger.FromContext(c.Request.Context())
	log.Info().Int("imported", n).Int("rejected", len(rowErrors)).Msg("csv import")
	c.JSON(200, gin.H{
		"message":  "CSV import completed",
		"imported": n,
		"errors":   rowErrors,
	})
}

// POST /api/transactions/scan-receipt
func (s *Server) scanReceipt(c *gin.Context) {
	if s.enricher == nil {
		s.respondError(c, ai.ErrNotConfigured)
		return
	}
	name, mime, data, ok := s.formFile(c, "receipt", "No receipt image uploaded")
	if !ok {
		return
	}
	if !strings.HasPrefix(mime, "image/") {
		badRequest(c, "invalid_file_type", "Only image files are accepted")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.ReqTimeoutSec)*time.Second)
	defer cancel()

	ref, err := s.receipts.Save(ctx, name, mime, data)
	if err != nil {
		s.respondError(c, err)
		return
	}

	extracted, err := s.enricher.ScanReceipt(ctx, ai.ReceiptImage{Filename: name, MIMEType: mime, Data: data})
	if err != nil {
		s.discardReceipt(c, ref)
		s.respondError(c, upstream("receipt_scan_failed", err))
		return
	}

	tx := receiptTransaction(account(c).ID, extracted, ref, s.now())
	if err := s.ledger.Insert(c.Request.Context(), tx, subscription.Admit(s.now())); err != nil {
		s.discardReceipt(c, ref)
		s.respondError(c, err)
		return
	}
	c.JSON(201, gin.H{"transaction": tx, "extractedData": extracted})
}

// receiptTransaction turns extracted receipt fields into an expense. An
// unusable category or date falls back to other_expense and now.
func receiptTransaction(owner uint, r *ai.Receipt, ref string, now time.Time) *models.Transaction {
	tx := &models.Transaction{
		AccountID:   owner,
		Type:        models.TypeExpense,
		Category:    models.CategoryOtherExpense,
		Amount:      r.Amount,
		Description: r.Description,
		Date:        now.UTC(),
		ReceiptURL:  ref,
	}
	if cat := models.Category(r.Category); cat.BelongsTo(models.TypeExpense) {
		tx.Category = cat
	}
	if r.Date != "" {
		if d, err := ledger.ParseDate(r.Date); err == nil {
			tx.Date = d
		}
	}
	return tx
}

func (s *Server) discardReceipt(c *gin.Context, ref string) {
	if err := s.receipts.Remove(context.WithoutCancel(c.Request.Context()), ref); err != nil {
		log := logger.FromContext(c.Request.Context())
		log.Warn().Err(err).Str("receipt", ref).Msg("failed to remove receipt")
	}
}

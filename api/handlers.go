/*
handlers.go - HTTP handlers for the bookkeeping engine

PURPOSE:
  Exposes the allocation engine and the audit/reconciliation service
  over REST. Handles HTTP request/response and JSON; all business
  logic stays in the domain packages.

ENDPOINTS:
  Customers:
    POST   /api/customers                     Create customer
    GET    /api/customers/{id}                Customer with balances
    GET    /api/customers/{id}/transactions   Transaction history
    GET    /api/customers/{id}/audit          Audit trail
    POST   /api/customers/{id}/payments       Record + allocate payment
    POST   /api/customers/{id}/credits        Issue credit
    POST   /api/customers/{id}/refunds        Record refund
    POST   /api/customers/{id}/reconcile      Reconcile all transactions

  Sales & transactions:
    POST   /api/sales                         Create sale
    GET    /api/transactions/{id}             Transaction detail
    GET    /api/transactions/{id}/summary     Audit-derived amounts
    GET    /api/transactions/{id}/integrity   Drift report
    POST   /api/transactions/{id}/reconcile   Repair drift
    DELETE /api/transactions/{id}             Void (soft delete)

ERROR MAPPING:
  400 validation failures, 404 unknown ids, 500 persistence failures.
  Consistency drift is never an error: integrity reports return 200.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tally/debt-engine/allocation"
	"github.com/tally/debt-engine/audit"
	"github.com/tally/debt-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Store   ledger.TxStore
	Engine  *allocation.Engine
	Audit   *audit.Service
	Metrics *Metrics
}

func NewHandler(store ledger.TxStore, engine *allocation.Engine, auditSvc *audit.Service, metrics *Metrics) *Handler {
	return &Handler{Store: store, Engine: engine, Audit: auditSvc, Metrics: metrics}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &ledger.Customer{
		ID:        ledger.CustomerID(uuid.NewString()),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveCustomer(r.Context(), c); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResponse(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCustomer(r.Context(), customerID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(c))
}

func (h *Handler) ListCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"
	txs, err := h.Store.ListCustomerTransactions(r.Context(), customerID(r), includeDeleted)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, toTransactionResponse(&txs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListCustomerAudit(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.AuditForCustomer(r.Context(), customerID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]AuditRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAuditRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PAYMENTS, CREDITS, REFUNDS
// =============================================================================

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, alloc, err := h.Engine.RecordPayment(r.Context(), allocation.PaymentInput{
		CustomerID:    customerID(r),
		Amount:        req.Amount,
		Method:        ledger.PaymentMethod(req.Method),
		AppliedToDebt: req.AppliedToDebt,
	})
	h.Metrics.observe("record_payment", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	txResp := toTransactionResponse(payment)
	writeJSON(w, http.StatusCreated, AllocationResponse{
		Transaction:   &txResp,
		DebtReduced:   alloc.DebtReduced,
		CreditCreated: alloc.CreditCreated,
		DebtCleared:   alloc.DebtCleared,
	})
}

func (h *Handler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req IssueCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "credit_issued"
	}
	grant, err := h.Engine.IssueCredit(r.Context(), customerID(r), req.Amount, reason)
	h.Metrics.observe("issue_credit", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(grant))
}

func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RecordRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	refund, err := h.Engine.RecordRefund(r.Context(), customerID(r), req.Amount,
		ledger.TransactionID(req.LinkedTransactionID))
	h.Metrics.observe("record_refund", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(refund))
}

// =============================================================================
// SALES & TRANSACTIONS
// =============================================================================

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sale, err := h.Engine.CreateSale(r.Context(), allocation.SaleInput{
		CustomerID:    ledger.CustomerID(req.CustomerID),
		TotalAmount:   req.TotalAmount,
		Method:        ledger.PaymentMethod(req.Method),
		CashPaid:      req.CashPaid,
		CreditPlanned: req.CreditPlanned,
		DueDate:       req.DueDate,
	})
	h.Metrics.observe("create_sale", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(sale))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Store.GetTransaction(r.Context(), transactionID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *Handler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.Engine.VoidTransaction(r.Context(), transactionID(r))
	h.Metrics.observe("void_transaction", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AUDIT & RECONCILIATION
// =============================================================================

func (h *Handler) TransactionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Audit.TransactionSummary(r.Context(), transactionID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(sum))
}

func (h *Handler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.Audit.VerifyIntegrity(r.Context(), transactionID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IntegrityResponse{
		TransactionID: string(report.TransactionID),
		IsConsistent:  report.IsConsistent,
		Issues:        report.Issues,
		Summary:       toSummaryResponse(report.Summary),
	})
}

func (h *Handler) ReconcileTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := h.Audit.Reconcile(r.Context(), transactionID(r))
	h.Metrics.observe("reconcile", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if res.Changed {
		h.Metrics.repaired(1)
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(res))
}

func (h *Handler) ReconcileCustomer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	report, err := h.Audit.ReconcileCustomer(r.Context(), customerID(r))
	h.Metrics.observe("reconcile_customer", start, err)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.repaired(report.Repaired())

	resp := CustomerReconcileResponse{
		CustomerID: string(report.CustomerID),
		Repaired:   report.Repaired(),
		Results:    make([]ReconcileResponse, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		resp.Results = append(resp.Results, toReconcileResponse(res))
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, ReconcileFailure{
			TransactionID: string(f.TransactionID),
			Error:         f.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PLUMBING
// =============================================================================

func customerID(r *http.Request) ledger.CustomerID {
	return ledger.CustomerID(chi.URLParam(r, "id"))
}

func transactionID(r *http.Request) ledger.TransactionID {
	return ledger.TransactionID(chi.URLParam(r, "id"))
}

func toSummaryResponse(sum audit.Summary) SummaryResponse {
	return SummaryResponse{
		TransactionID:             string(sum.TransactionID),
		AuditTotal:                sum.AuditTotal,
		CalculatedPaidAmount:      sum.CalculatedPaidAmount,
		CalculatedRemainingAmount: sum.CalculatedRemainingAmount,
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// dto.go - Request/response payloads for the HTTP surface.
//
// Amounts cross the wire as integer minor units, matching the
// engine's arithmetic; PercentPaid is a formatted string because it
// is display data, not an amount.
package api

import (
	"time"

	"github.com/tally/debt-engine/audit"
	"github.com/tally/debt-engine/ledger"
	"github.com/tally/debt-engine/money"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateCustomerRequest struct {
	Name string `json:"name"`
}

type CreateSaleRequest struct {
	CustomerID    string     `json:"customerId"`
	TotalAmount   int64      `json:"totalAmount"`
	Method        string     `json:"method"`
	CashPaid      int64      `json:"cashPaid,omitempty"`
	CreditPlanned int64      `json:"creditPlanned,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
}

type RecordPaymentRequest struct {
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	AppliedToDebt bool   `json:"appliedToDebt"`
}

type IssueCreditRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type RecordRefundRequest struct {
	Amount              int64  `json:"amount"`
	LinkedTransactionID string `json:"linkedTransactionId,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CustomerResponse struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	OutstandingBalance int64      `json:"outstandingBalance"`
	CreditBalance      int64      `json:"creditBalance"`
	TotalSpent         int64      `json:"totalSpent"`
	LastPurchase       *time.Time `json:"lastPurchase,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func toCustomerResponse(c *ledger.Customer) CustomerResponse {
	return CustomerResponse{
		ID:                 string(c.ID),
		Name:               c.Name,
		OutstandingBalance: c.OutstandingBalance,
		CreditBalance:      c.CreditBalance,
		TotalSpent:         c.TotalSpent,
		LastPurchase:       c.LastPurchase,
		CreatedAt:          c.CreatedAt,
	}
}

type TransactionResponse struct {
	ID                  string     `json:"id"`
	CustomerID          string     `json:"customerId"`
	Kind                string     `json:"kind"`
	Method              string     `json:"method"`
	TotalAmount         int64      `json:"totalAmount"`
	PaidAmount          int64      `json:"paidAmount"`
	RemainingAmount     int64      `json:"remainingAmount"`
	Status              string     `json:"status"`
	PercentPaid         string     `json:"percentPaid"`
	AppliedToDebt       bool       `json:"appliedToDebt,omitempty"`
	LinkedTransactionID string     `json:"linkedTransactionId,omitempty"`
	DueDate             *time.Time `json:"dueDate,omitempty"`
	Deleted             bool       `json:"deleted,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func toTransactionResponse(tx *ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                  string(tx.ID),
		CustomerID:          string(tx.CustomerID),
		Kind:                string(tx.Kind),
		Method:              string(tx.Method),
		TotalAmount:         tx.TotalAmount,
		PaidAmount:          tx.PaidAmount,
		RemainingAmount:     tx.RemainingAmount,
		Status:              string(tx.Status),
		PercentPaid:         money.PercentPaid(tx.PaidAmount, tx.TotalAmount).StringFixed(2),
		AppliedToDebt:       tx.AppliedToDebt,
		LinkedTransactionID: string(tx.LinkedTransactionID),
		DueDate:             tx.DueDate,
		Deleted:             tx.Deleted,
		CreatedAt:           tx.CreatedAt,
	}
}

type AllocationResponse struct {
	Transaction   *TransactionResponse `json:"transaction,omitempty"`
	DebtReduced   int64                `json:"debtReduced"`
	CreditCreated int64                `json:"creditCreated"`
	DebtCleared   bool                 `json:"debtCleared"`
}

type AuditRecordResponse struct {
	ID                  string            `json:"id"`
	CustomerID          string            `json:"customerId"`
	SourceTransactionID string            `json:"sourceTransactionId,omitempty"`
	Kind                string            `json:"kind"`
	Amount              int64             `json:"amount"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

func toAuditRecordResponse(rec ledger.AuditRecord) AuditRecordResponse {
	return AuditRecordResponse{
		ID:                  string(rec.ID),
		CustomerID:          string(rec.CustomerID),
		SourceTransactionID: string(rec.SourceTransactionID),
		Kind:                string(rec.Kind),
		Amount:              rec.Amount,
		Metadata:            rec.Metadata,
		CreatedAt:           rec.CreatedAt,
	}
}

type SummaryResponse struct {
	TransactionID             string `json:"transactionId"`
	AuditTotal                int64  `json:"auditTotal"`
	CalculatedPaidAmount      int64  `json:"calculatedPaidAmount"`
	CalculatedRemainingAmount int64  `json:"calculatedRemainingAmount"`
}

type IntegrityResponse struct {
	TransactionID string          `json:"transactionId"`
	IsConsistent  bool            `json:"isConsistent"`
	Issues        []string        `json:"issues,omitempty"`
	Summary       SummaryResponse `json:"summary"`
}

type ReconcileResponse struct {
	TransactionID string `json:"transactionId"`
	Changed       bool   `json:"changed"`
	OldStatus     string `json:"oldStatus"`
	NewStatus     string `json:"newStatus"`
	OldPaid       int64  `json:"oldPaid"`
	NewPaid       int64  `json:"newPaid"`
}

func toReconcileResponse(res audit.ReconcileResult) ReconcileResponse {
	return ReconcileResponse{
		TransactionID: string(res.TransactionID),
		Changed:       res.Changed,
		OldStatus:     string(res.OldStatus),
		NewStatus:     string(res.NewStatus),
		OldPaid:       res.OldPaid,
		NewPaid:       res.NewPaid,
	}
}

type CustomerReconcileResponse struct {
	CustomerID string              `json:"customerId"`
	Repaired   int                 `json:"repaired"`
	Results    []ReconcileResponse `json:"results"`
	Failures   []ReconcileFailure  `json:"failures,omitempty"`
}

type ReconcileFailure struct {
	TransactionID string `json:"transactionId"`
	Error         string `json:"error"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

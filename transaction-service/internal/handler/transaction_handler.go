package handler

import (
	"context"
	"net/http"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/middleware"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/gin-gonic/gin"
)

// TransactionCommander defines the write-side operations used by TransactionHandler.
type TransactionCommander interface {
	CreateTransaction(context.Context, cqrs.CreateTransactionCommand) (*models.Transaction, error)
	VerifyOTP(context.Context, cqrs.VerifyOTPCommand) (*models.Transaction, bool, error)
	Submit(context.Context, cqrs.SubmitTransactionCommand) (*models.Transaction, error)
	Complete(context.Context, cqrs.CompleteTransactionCommand) (*models.Transaction, error)
	Fail(context.Context, cqrs.FailTransactionCommand) (*models.Transaction, error)
	Cancel(context.Context, cqrs.CancelTransactionCommand) (*models.Transaction, error)
	Reverse(context.Context, cqrs.ReverseTransactionCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.TransactionView, error)
	ListTransactionLogs(context.Context, cqrs.ListTransactionLogsQuery) ([]models.TransactionLog, error)
	ListAccountTransactions(context.Context, cqrs.ListAccountTransactionsQuery) ([]models.TransactionView, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
}

type CreateTransactionRequest struct {
	Type                 string `json:"type" validate:"required"`
	SourceAccountID      string `json:"sourceAccountId"`
	DestinationAccountID string `json:"destinationAccountId"`
	Amount               string `json:"amount" validate:"required,numeric"`
	Fee                  string `json:"fee" validate:"omitempty,numeric"`
	Tax                  string `json:"tax" validate:"omitempty,numeric"`
	Currency             string `json:"currency" validate:"omitempty,len=3"`
	Priority             string `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Description          string `json:"description" validate:"max=255"`
	Narration            string `json:"narration" validate:"max=255"`
	RecipientName        string `json:"recipientName" validate:"max=200"`
	RecipientAccount     string `json:"recipientAccount" validate:"max=50"`
	RecipientBank        string `json:"recipientBank" validate:"max=100"`
	BeneficiaryID        string `json:"beneficiaryId"`
	RequireOTP           bool   `json:"requireOtp"`
}

type VerifyOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type ReverseRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type ListTransactionsResponse struct {
	Transactions []models.TransactionView `json:"transactions"`
}

type ListLogsResponse struct {
	Logs []models.TransactionLog `json:"logs"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req CreateTransactionRequest
	if !bindJSON(c, &req) {
		return
	}
	txnType, err := models.ParseTransactionType(req.Type)
	if err != nil {
		respondError(c, err, "")
		return
	}

	txn, err := h.commands.CreateTransaction(c.Request.Context(), cqrs.CreateTransactionCommand{
		UserID:               userID,
		Type:                 txnType,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               parseAmount(req.Amount),
		Fee:                  parseAmount(req.Fee),
		Tax:                  parseAmount(req.Tax),
		Currency:             req.Currency,
		Priority:             models.Priority(req.Priority),
		Description:          req.Description,
		Narration:            req.Narration,
		RecipientName:        req.RecipientName,
		RecipientAccount:     req.RecipientAccount,
		RecipientBank:        req.RecipientBank,
		BeneficiaryID:        req.BeneficiaryID,
		IdempotencyKey:       c.GetHeader("Idempotency-Key"),
		ForceOTP:             req.RequireOTP,
		Meta:                 requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to create transaction")
		return
	}
	c.JSON(http.StatusCreated, txn.View())
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	view, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		Reference: c.Param("reference"),
		UserID:    scopeUserID(c),
	})
	if err != nil {
		respondError(c, err, "Failed to get transaction")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TransactionHandler) ListTransactionLogs(c *gin.Context) {
	logs, err := h.queries.ListTransactionLogs(c.Request.Context(), cqrs.ListTransactionLogsQuery{
		Reference: c.Param("reference"),
		UserID:    scopeUserID(c),
	})
	if err != nil {
		respondError(c, err, "Failed to list transaction logs")
		return
	}
	if logs == nil {
		logs = []models.TransactionLog{}
	}
	c.JSON(http.StatusOK, ListLogsResponse{Logs: logs})
}

func (h *TransactionHandler) ListAccountTransactions(c *gin.Context) {
	views, err := h.queries.ListAccountTransactions(c.Request.Context(), cqrs.ListAccountTransactionsQuery{
		AccountID: c.Param("accountId"),
		UserID:    scopeUserID(c),
		Limit:     queryInt(c, "limit"),
		Offset:    queryInt(c, "offset"),
	})
	if err != nil {
		respondError(c, err, "Failed to list transactions")
		return
	}
	if views == nil {
		views = []models.TransactionView{}
	}
	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: views})
}

func (h *TransactionHandler) VerifyOTP(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req VerifyOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	txn, ok, err := h.commands.VerifyOTP(c.Request.Context(), cqrs.VerifyOTPCommand{
		Reference: c.Param("reference"),
		UserID:    userID,
		Code:      req.Code,
		Meta:      requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to verify code")
		return
	}
	if !ok {
		middleware.RespondWithCode(c, http.StatusUnprocessableEntity, string(ledgererr.CodeOtpNotVerified), "Invalid or expired code")
		return
	}
	c.JSON(http.StatusOK, txn.View())
}

func (h *TransactionHandler) Submit(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	txn, err := h.commands.Submit(c.Request.Context(), cqrs.SubmitTransactionCommand{
		Reference: c.Param("reference"),
		UserID:    userID,
		Meta:      requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to submit transaction")
		return
	}
	c.JSON(http.StatusOK, txn.View())
}

func (h *TransactionHandler) Cancel(c *gin.Context) {
	var req ReasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	txn, err := h.commands.Cancel(c.Request.Context(), cqrs.CancelTransactionCommand{
		Reference: c.Param("reference"),
		UserID:    scopeUserID(c),
		Reason:    req.Reason,
		Meta:      requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to cancel transaction")
		return
	}
	c.JSON(http.StatusOK, txn.View())
}

// Complete, Fail and Reverse are mounted behind the admin role.

func (h *TransactionHandler) Complete(c *gin.Context) {
	txn, err := h.commands.Complete(c.Request.Context(), cqrs.CompleteTransactionCommand{
		Reference: c.Param("reference"),
		Meta:      requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to complete transaction")
		return
	}
	c.JSON(http.StatusOK, txn.View())
}

func (h *TransactionHandler) Fail(c *gin.Context) {
	var req ReasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	txn, err := h.commands.Fail(c.Request.Context(), cqrs.FailTransactionCommand{
		Reference: c.Param("reference"),
		Reason:    req.Reason,
		Meta:      requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to fail transaction")
		return
	}
	c.JSON(http.StatusOK, txn.View())
}

func (h *TransactionHandler) Reverse(c *gin.Context) {
	var req ReverseRequest
	if !bindJSON(c, &req) {
		return
	}
	txn, err := h.commands.Reverse(c.Request.Context(), cqrs.ReverseTransactionCommand{
		Reference: c.Param("reference"),
		Reason:    req.Reason,
		Meta:      requestMeta(c),
	})
	if err != nil {
		respondError(c, err, "Failed to reverse transaction")
		return
	}
	c.JSON(http.StatusOK, txn.View())
}

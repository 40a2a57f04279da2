package handler

import (
	"context"
	"net/http"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/middleware"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/gin-gonic/gin"
)

type AccountCommander interface {
	OpenAccount(context.Context, cqrs.OpenAccountCommand) (*models.Account, error)
	SetAccountStatus(context.Context, cqrs.SetAccountStatusCommand) (*models.Account, error)
}

type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	ListAccounts(context.Context, cqrs.ListAccountsQuery) ([]models.AccountView, error)
}

type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
}

type OpenAccountRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	AccountType string `json:"accountType" validate:"required,oneof=SAVINGS CURRENT FIXED_DEPOSIT CRYPTO BUSINESS"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
}

type SetAccountStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE FROZEN SUSPENDED CLOSED"`
}

type ListAccountsResponse struct {
	Accounts []models.AccountView `json:"accounts"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

func (h *AccountHandler) OpenAccount(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req OpenAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.commands.OpenAccount(c.Request.Context(), cqrs.OpenAccountCommand{
		UserID:      userID,
		Name:        req.Name,
		AccountType: models.AccountType(req.AccountType),
		Currency:    req.Currency,
	})
	if err != nil {
		respondError(c, err, "Failed to open account")
		return
	}
	c.JSON(http.StatusCreated, account.View())
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	views, err := h.queries.ListAccounts(c.Request.Context(), cqrs.ListAccountsQuery{UserID: userID})
	if err != nil {
		respondError(c, err, "Failed to list accounts")
		return
	}
	if views == nil {
		views = []models.AccountView{}
	}
	c.JSON(http.StatusOK, ListAccountsResponse{Accounts: views})
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{
		AccountID:        c.Param("accountId"),
		RequestingUserID: scopeUserID(c),
	})
	if err != nil {
		respondError(c, err, "Failed to get account")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *AccountHandler) SetAccountStatus(c *gin.Context) {
	var req SetAccountStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := h.commands.SetAccountStatus(c.Request.Context(), cqrs.SetAccountStatusCommand{
		AccountID: c.Param("accountId"),
		Status:    models.AccountStatus(req.Status),
	})
	if err != nil {
		respondError(c, err, "Failed to update account status")
		return
	}
	c.JSON(http.StatusOK, account.View())
}

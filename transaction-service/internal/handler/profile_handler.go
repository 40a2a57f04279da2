package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/middleware"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/query"
	"github.com/gin-gonic/gin"
)

type SettingsCommander interface {
	SetTier(context.Context, cqrs.SetTierCommand) (*models.TransactionLimit, error)
	UpdateSecuritySettings(context.Context, cqrs.UpdateSecuritySettingsCommand) (*models.SecuritySettings, error)
	AddBeneficiary(context.Context, cqrs.AddBeneficiaryCommand) (*models.Beneficiary, error)
	CreateSchedule(context.Context, cqrs.CreateScheduleCommand) (*models.ScheduledTransaction, error)
}

type ProfileQuerier interface {
	GetLimits(context.Context, cqrs.GetLimitsQuery) (*query.LimitsView, error)
	GetSecuritySettings(context.Context, cqrs.GetSecuritySettingsQuery) (*models.SecuritySettings, error)
	ListBeneficiaries(context.Context, cqrs.ListBeneficiariesQuery) ([]models.Beneficiary, error)
	ListSchedules(context.Context, cqrs.ListSchedulesQuery) ([]models.ScheduledTransaction, error)
}

// ProfileHandler serves a user's limits, OTP policy, beneficiaries and
// recurring transfers.
type ProfileHandler struct {
	commands SettingsCommander
	queries  ProfileQuerier
}

type SetTierRequest struct {
	Tier string `json:"tier" validate:"required,oneof=BASIC STANDARD PREMIUM BUSINESS"`
}

type UpdateSecuritySettingsRequest struct {
	RequireOTPForTransactions *bool   `json:"requireOtpForTransactions"`
	TransactionThreshold      *string `json:"transactionThreshold" validate:"omitempty,numeric"`
}

type AddBeneficiaryRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	AccountNumber   string `json:"accountNumber" validate:"required,max=50"`
	BankName        string `json:"bankName" validate:"max=100"`
	BeneficiaryType string `json:"beneficiaryType" validate:"omitempty,oneof=INTERNAL EXTERNAL"`
	Nickname        string `json:"nickname" validate:"max=50"`
}

type CreateScheduleRequest struct {
	SourceAccountID      string     `json:"sourceAccountId" validate:"required"`
	DestinationAccountID string     `json:"destinationAccountId"`
	BeneficiaryName      string     `json:"beneficiaryName" validate:"max=200"`
	BeneficiaryAccount   string     `json:"beneficiaryAccount" validate:"max=50"`
	BeneficiaryBank      string     `json:"beneficiaryBank" validate:"max=100"`
	Amount               string     `json:"amount" validate:"required,numeric"`
	Description          string     `json:"description" validate:"max=255"`
	Frequency            string     `json:"frequency" validate:"required"`
	StartDate            time.Time  `json:"startDate"`
	EndDate              *time.Time `json:"endDate"`
	MaxExecutions        *int       `json:"maxExecutions" validate:"omitempty,gt=0"`
}

func NewProfileHandler(commands SettingsCommander, queries ProfileQuerier) *ProfileHandler {
	return &ProfileHandler{commands: commands, queries: queries}
}

func (h *ProfileHandler) GetLimits(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	view, err := h.queries.GetLimits(c.Request.Context(), cqrs.GetLimitsQuery{UserID: userID})
	if err != nil {
		respondError(c, err, "Failed to get limits")
		return
	}
	c.JSON(http.StatusOK, view)
}

// SetTier is mounted behind the admin role.
func (h *ProfileHandler) SetTier(c *gin.Context) {
	var req SetTierRequest
	if !bindJSON(c, &req) {
		return
	}
	limit, err := h.commands.SetTier(c.Request.Context(), cqrs.SetTierCommand{
		UserID: c.Param("userId"),
		Tier:   models.Tier(req.Tier),
	})
	if err != nil {
		respondError(c, err, "Failed to set tier")
		return
	}
	c.JSON(http.StatusOK, limit)
}

func (h *ProfileHandler) GetSecuritySettings(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	settings, err := h.queries.GetSecuritySettings(c.Request.Context(), cqrs.GetSecuritySettingsQuery{UserID: userID})
	if err != nil {
		respondError(c, err, "Failed to get security settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *ProfileHandler) UpdateSecuritySettings(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req UpdateSecuritySettingsRequest
	if !bindJSON(c, &req) {
		return
	}
	cmd := cqrs.UpdateSecuritySettingsCommand{
		UserID:                    userID,
		RequireOTPForTransactions: req.RequireOTPForTransactions,
	}
	if req.TransactionThreshold != nil {
		threshold := parseAmount(*req.TransactionThreshold)
		cmd.TransactionThreshold = &threshold
	}
	settings, err := h.commands.UpdateSecuritySettings(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err, "Failed to update security settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *ProfileHandler) ListBeneficiaries(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	list, err := h.queries.ListBeneficiaries(c.Request.Context(), cqrs.ListBeneficiariesQuery{UserID: userID})
	if err != nil {
		respondError(c, err, "Failed to list beneficiaries")
		return
	}
	if list == nil {
		list = []models.Beneficiary{}
	}
	c.JSON(http.StatusOK, gin.H{"beneficiaries": list})
}

func (h *ProfileHandler) AddBeneficiary(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req AddBeneficiaryRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.commands.AddBeneficiary(c.Request.Context(), cqrs.AddBeneficiaryCommand{
		UserID:          userID,
		Name:            req.Name,
		AccountNumber:   req.AccountNumber,
		BankName:        req.BankName,
		BeneficiaryType: models.BeneficiaryType(req.BeneficiaryType),
		Nickname:        req.Nickname,
	})
	if err != nil {
		respondError(c, err, "Failed to add beneficiary")
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *ProfileHandler) ListSchedules(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	list, err := h.queries.ListSchedules(c.Request.Context(), cqrs.ListSchedulesQuery{UserID: userID})
	if err != nil {
		respondError(c, err, "Failed to list schedules")
		return
	}
	if list == nil {
		list = []models.ScheduledTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": list})
}

func (h *ProfileHandler) CreateSchedule(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req CreateScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	sched, err := h.commands.CreateSchedule(c.Request.Context(), cqrs.CreateScheduleCommand{
		UserID:               userID,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		BeneficiaryName:      req.BeneficiaryName,
		BeneficiaryAccount:   req.BeneficiaryAccount,
		BeneficiaryBank:      req.BeneficiaryBank,
		Amount:               parseAmount(req.Amount),
		Description:          req.Description,
		Frequency:            models.Frequency(req.Frequency),
		StartDate:            req.StartDate,
		EndDate:              req.EndDate,
		MaxExecutions:        req.MaxExecutions,
	})
	if err != nil {
		respondError(c, err, "Failed to create schedule")
		return
	}
	c.JSON(http.StatusCreated, sched)
}

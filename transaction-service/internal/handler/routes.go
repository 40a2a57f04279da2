package handler

import (
	"github.com/Br41n7/Securebank/shared/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API on v1, which must already be authenticated.
func RegisterRoutes(v1 *gin.RouterGroup, tx *TransactionHandler, accounts *AccountHandler, profiles *ProfileHandler) {
	admin := middleware.RequireRole(middleware.RoleAdmin)

	transactions := v1.Group("/transactions")
	{
		transactions.POST("", tx.CreateTransaction)
		transactions.GET("/:reference", tx.GetTransaction)
		transactions.GET("/:reference/logs", tx.ListTransactionLogs)
		transactions.POST("/:reference/verify-otp", tx.VerifyOTP)
		transactions.POST("/:reference/submit", tx.Submit)
		transactions.POST("/:reference/cancel", tx.Cancel)
		transactions.POST("/:reference/complete", admin, tx.Complete)
		transactions.POST("/:reference/fail", admin, tx.Fail)
		transactions.POST("/:reference/reverse", admin, tx.Reverse)
	}

	accts := v1.Group("/accounts")
	{
		accts.POST("", accounts.OpenAccount)
		accts.GET("", accounts.ListAccounts)
		accts.GET("/:accountId", accounts.GetAccount)
		accts.GET("/:accountId/transactions", tx.ListAccountTransactions)
		accts.PATCH("/:accountId/status", admin, accounts.SetAccountStatus)
	}

	v1.GET("/limits", profiles.GetLimits)
	v1.PUT("/limits/:userId/tier", admin, profiles.SetTier)
	v1.GET("/security-settings", profiles.GetSecuritySettings)
	v1.PATCH("/security-settings", profiles.UpdateSecuritySettings)
	v1.GET("/beneficiaries", profiles.ListBeneficiaries)
	v1.POST("/beneficiaries", profiles.AddBeneficiary)
	v1.GET("/schedules", profiles.ListSchedules)
	v1.POST("/schedules", profiles.CreateSchedule)
}

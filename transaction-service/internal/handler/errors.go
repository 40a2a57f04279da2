package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/middleware"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// statusFor maps a reason code to its HTTP status.
func statusFor(code ledgererr.Code) int {
	switch code {
	case ledgererr.CodeInvalidTransaction, ledgererr.CodeInsufficientFunds, ledgererr.CodeAccountNotActive,
		ledgererr.CodeLimitExceeded, ledgererr.CodeOtpNotVerified:
		return http.StatusUnprocessableEntity
	case ledgererr.CodeInvalidStateTransition, ledgererr.CodeConflict, ledgererr.CodeDuplicateReference:
		return http.StatusConflict
	case ledgererr.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case ledgererr.CodeNotFound:
		return http.StatusNotFound
	case ledgererr.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the reason code of err. Internal errors get fallback
// instead of their text.
func respondError(c *gin.Context, err error, fallback string) {
	code := ledgererr.CodeOf(err)
	status := statusFor(code)
	message := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		message = fallback
	case status == http.StatusServiceUnavailable:
		message = "Service temporarily unavailable, retry later"
	}
	_ = c.Error(err)
	middleware.RespondWithCode(c, status, string(code), message)
}

// bindOptionalJSON binds a body that may be absent.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(obj); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(obj); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

// parseAmount reads a validated numeric string. Blank means zero.
func parseAmount(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		DeviceID:  c.GetHeader("X-Device-ID"),
	}
}

// scopeUserID is the user reads and cancels are restricted to. Admins are
// not restricted.
func scopeUserID(c *gin.Context) string {
	if c.GetString("role") == middleware.RoleAdmin {
		return ""
	}
	userID, _ := middleware.GetUserID(c)
	return userID
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

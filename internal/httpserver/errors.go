package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leadpilot/creditledger/pkg/ledger"
)

const (
	errorCodeInsufficientCredits = "insufficient_credits"
	errorCodeHoldNotFound        = "hold_not_found"
	errorCodeHoldNotActive       = "hold_not_active"
	errorCodeHoldExpired         = "hold_expired"
	errorCodeAmountExceedsHold   = "amount_exceeds_hold"
	errorCodeInvalidRequest      = "invalid_request"
	errorCodeStoreUnavailable    = "store_unavailable"
	errorCodeInternal            = "internal_error"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// writeError maps domain errors onto HTTP statuses with enough structured
// context for callers to build a precise user-facing message.
func writeError(ctx *gin.Context, err error) {
	var insufficient ledger.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		ctx.JSON(http.StatusConflict, gin.H{"error": gin.H{
			"code":      errorCodeInsufficientCredits,
			"message":   insufficient.Error(),
			"available": insufficient.Available.Int64(),
			"required":  insufficient.Required.Int64(),
		}})
		return
	}
	var holdState ledger.HoldStateError
	if errors.As(err, &holdState) {
		ctx.JSON(http.StatusConflict, gin.H{"error": gin.H{
			"code":           errorCodeHoldNotActive,
			"message":        holdState.Error(),
			"current_status": holdState.Status.String(),
		}})
		return
	}
	switch {
	case errors.Is(err, ledger.ErrHoldExpired):
		ctx.JSON(http.StatusConflict, errorResponse(errorCodeHoldExpired, err.Error()))
	case errors.Is(err, ledger.ErrHoldNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeHoldNotFound, err.Error()))
	case errors.Is(err, ledger.ErrHoldNotActive):
		ctx.JSON(http.StatusConflict, errorResponse(errorCodeHoldNotActive, err.Error()))
	case errors.Is(err, ledger.ErrAmountExceedsHold):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeAmountExceedsHold, err.Error()))
	case errors.Is(err, ledger.ErrStoreUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse(errorCodeStoreUnavailable, err.Error()))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, err.Error()))
	default:
		ctx.JSON(http.StatusInternalServerError, errorResponse(errorCodeInternal, "internal error"))
	}
}

func isValidationError(err error) bool {
	validationSentinels := []error{
		ledger.ErrInvalidAmount,
		ledger.ErrInvalidUserID,
		ledger.ErrInvalidCreditType,
		ledger.ErrInvalidHoldID,
		ledger.ErrInvalidReferenceID,
		ledger.ErrInvalidHoldStatus,
		ledger.ErrInvalidSource,
		ledger.ErrInvalidTTL,
		ledger.ErrInvalidLimit,
		ledger.ErrInvalidOffset,
		ledger.ErrInvalidMetadataJSON,
	}
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

// respondServiceError maps service sentinels to client errors. Anything
// else is logged in full and answered with a generic message.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrValidation):
		httputil.ErrorCode(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, dispatch.ErrCampaignNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition):
		httputil.Conflict(w, "invalid_transition", err.Error())
	case errors.Is(err, campaign.ErrEmptyAudience):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "empty_audience", err.Error())
	case errors.Is(err, campaign.ErrNoFailedRecipients):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "no_failed_recipients", err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// dispatchStatus picks the HTTP status for a failed dispatch.
func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrCampaignNotFound), errors.Is(err, campaign.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrInvalidStatus), errors.Is(err, dispatch.ErrDispatchInProgress),
		errors.Is(err, dispatch.ErrLeaseLost):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNoPendingRecipients):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// publicDispatchError returns the message a caller may see for a failed
// dispatch. Infrastructure errors are logged and replaced.
func publicDispatchError(campaignID string, err error) string {
	if errors.Is(err, dispatch.ErrLeaseLost) {
		logger.Warn("dispatch stopped, lease lost", "campaign_id", campaignID, "error", err)
		return dispatch.ErrLeaseLost.Error()
	}
	if dispatchStatus(err) < 500 {
		return err.Error()
	}
	logger.Error("dispatch failed", "campaign_id", campaignID, "error", err)
	return safeErrorMessage(err)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
func safeErrorMessage(err error) string {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "service temporarily unavailable"
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "request timed out"
	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "database"):
		return "a database error occurred"
	default:
		return "dispatch failed"
	}
}

package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func traceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	RespondStatus(c, http.StatusOK, data, message)
}

func RespondStatus(c *gin.Context, code int, data interface{}, message string) {
	c.JSON(code, APIResponse{
		Status:  "success",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
	})
}

// errorStatus maps every domain sentinel onto the HTTP status returned to clients.
var errorStatus = []struct {
	err  error
	code int
}{
	{ErrInvalidPage, http.StatusBadRequest},
	{ErrInvalidPageSize, http.StatusBadRequest},
	{ErrInvalidAmount, http.StatusBadRequest},
	{ErrUnsupportedMethod, http.StatusBadRequest},
	{ErrForbidden, http.StatusForbidden},

	{ErrAccountNotFound, http.StatusNotFound},
	{ErrLockNotFound, http.StatusNotFound},
	{ErrCouponNotFound, http.StatusNotFound},
	{ErrProductNotFound, http.StatusNotFound},
	{ErrOrderNotFound, http.StatusNotFound},
	{ErrRefundNotFound, http.StatusNotFound},

	{ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{ErrDailyCapExceeded, http.StatusUnprocessableEntity},
	{ErrCouponExpired, http.StatusUnprocessableEntity},
	{ErrCouponNotStarted, http.StatusUnprocessableEntity},
	{ErrCouponExhausted, http.StatusUnprocessableEntity},
	{ErrCouponInactive, http.StatusUnprocessableEntity},
	{ErrCouponAlreadyClaimed, http.StatusUnprocessableEntity},
	{ErrCouponNotApplicable, http.StatusUnprocessableEntity},
	{ErrCouponMinimumNotMet, http.StatusUnprocessableEntity},
	{ErrCouponNotClaimed, http.StatusUnprocessableEntity},
	{ErrCouponUnavailable, http.StatusUnprocessableEntity},
	{ErrRefundNotAllowed, http.StatusUnprocessableEntity},
	{ErrOrderExpired, http.StatusUnprocessableEntity},

	{ErrDuplicateReference, http.StatusConflict},
	{ErrCouponCodeTaken, http.StatusConflict},
	{ErrLockAlreadyResolved, http.StatusConflict},
	{ErrOrderStateConflict, http.StatusConflict},
	{ErrPaymentAmountMismatch, http.StatusConflict},

	{ErrSignatureInvalid, http.StatusUnauthorized},
	{ErrGatewayUnavailable, http.StatusBadGateway},
}

// StatusForError returns the HTTP status for err, 500 when it is not a known domain error.
func StatusForError(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}

func HandleServiceError(c *gin.Context, err error) {
	code := StatusForError(err)
	if code == http.StatusInternalServerError {
		zap.L().Error("unhandled service error",
			zap.String("trace_id", traceID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		RespondError(c, code, "Internal server error")
		return
	}
	RespondError(c, code, err.Error())
}

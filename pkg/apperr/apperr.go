package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code carried in every error body sent to
// HIUs, HIPs and the Gateway.
type ErrorCode int

const (
	CodeInvalidToken             ErrorCode = 1401
	CodeConsentArtefactExpired   ErrorCode = 1410
	CodeRequestAlreadyExists     ErrorCode = 1412
	CodeConsentArtefactNotFound  ErrorCode = 1416
	CodeInvalidRequester         ErrorCode = 1417
	CodeInvalidDateRange         ErrorCode = 1418
	CodeConsentNotGranted        ErrorCode = 1428
	CodeUnknownError             ErrorCode = 1500
	CodeQueueNotFound            ErrorCode = 1501
	CodeDBOperationFailed        ErrorCode = 1502
	CodeServiceDown              ErrorCode = 1503
	CodeNoResultFromGateway      ErrorCode = 1504
	CodeConsentArtefactForbidden ErrorCode = 1508
	CodeBadRequestFromGateway    ErrorCode = 1510
	CodeNetworkServiceError      ErrorCode = 1511
	CodeInvalidRequest           ErrorCode = 1513
)

// ClientError is an error with an HTTP status and a body-level code.
type ClientError struct {
	Status  int
	Code    ErrorCode
	Message string
	cause   error
}

// Body is the wire shape of an error: {"error":{"code":..,"message":..}}.
type Body struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ClientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.cause)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (e *ClientError) Unwrap() error { return e.cause }

// Body returns the serializable part of the error.
func (e *ClientError) Body() Body {
	return Body{Code: e.Code, Message: e.Message}
}

// Wrap returns a copy of e that carries cause for logging and errors.Is.
func (e *ClientError) Wrap(cause error) *ClientError {
	cp := *e
	cp.cause = cause
	return &cp
}

// Is matches on status and code so sentinel-style comparisons work across
// wrapped copies.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Status == e.Status && t.Code == e.Code
}

func newErr(status int, code ErrorCode, msg string) *ClientError {
	return &ClientError{Status: status, Code: code, Message: msg}
}

func Unauthorized() *ClientError {
	return newErr(http.StatusUnauthorized, CodeInvalidToken, "Unauthorized")
}

func Forbidden() *ClientError {
	return newErr(http.StatusForbidden, CodeInvalidToken, "Forbidden")
}

func TooManyRequests() *ClientError {
	return newErr(http.StatusTooManyRequests, CodeInvalidRequest, "Too many requests from gateway")
}

func InvalidRequest(msg string) *ClientError {
	return newErr(http.StatusBadRequest, CodeInvalidRequest, msg)
}

func InvalidHIU() *ClientError {
	return newErr(http.StatusForbidden, CodeConsentArtefactForbidden, "invalid HIU")
}

func ConsentExpired() *ClientError {
	return newErr(http.StatusGone, CodeConsentArtefactExpired, "Consent artefact expired")
}

func ConsentNotGranted() *ClientError {
	return newErr(http.StatusPreconditionFailed, CodeConsentNotGranted, "Not a granted consent.")
}

func InvalidDateRange() *ClientError {
	return newErr(http.StatusBadRequest, CodeInvalidDateRange, "Date Range given is invalid")
}

func ConsentArtefactNotFound() *ClientError {
	return newErr(http.StatusNotFound, CodeConsentArtefactNotFound, "Cannot find the consent artefact")
}

func TransactionNotFound() *ClientError {
	return newErr(http.StatusNotFound, CodeInvalidRequest, "Cannot find the data flow transaction")
}

func ConsentArtefactForbidden() *ClientError {
	return newErr(http.StatusForbidden, CodeConsentArtefactForbidden, "Cannot retrieve Consent artefact")
}

func RequestAlreadyExists() *ClientError {
	return newErr(http.StatusConflict, CodeRequestAlreadyExists, "A request with this request id already exists.")
}

func DBOperationFailed() *ClientError {
	return newErr(http.StatusInternalServerError, CodeDBOperationFailed, "Failed to persist the request")
}

func QueueNotFound() *ClientError {
	return newErr(http.StatusInternalServerError, CodeQueueNotFound, "Queue not found")
}

func NetworkServiceCallFailed() *ClientError {
	return newErr(http.StatusInternalServerError, CodeNetworkServiceError, "Network service call failed")
}

func InvalidResponseFromGateway() *ClientError {
	return newErr(http.StatusInternalServerError, CodeBadRequestFromGateway, "Invalid response from gateway")
}

func UpstreamUnauthorized() *ClientError {
	return newErr(http.StatusInternalServerError, CodeServiceDown, "Upstream rejected service credentials")
}

func NoResultFromGateway() *ClientError {
	return newErr(http.StatusGatewayTimeout, CodeNoResultFromGateway, "Didn't receive any result from Gateway")
}

func UnknownError() *ClientError {
	return newErr(http.StatusInternalServerError, CodeUnknownError, "Unknown error occurred")
}

// From normalizes any error into a ClientError. Errors that are not client
// errors become 500/UnknownError with the original attached as cause.
func From(err error) *ClientError {
	if err == nil {
		return nil
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	return UnknownError().Wrap(err)
}

package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bulletin/internal/models"
)

// CorrelationHeader carries the correlation id to the remote service.
const CorrelationHeader = "X-Correlation-ID"

// classifyStatus maps a failed response to the error taxonomy. The body's
// code wins when it names a known code.
func classifyStatus(status int, body []byte) error {
	var resp models.ErrorResponse
	_ = json.Unmarshal(body, &resp)
	message := resp.Error
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	code := resp.Code
	switch code {
	case models.CodeValidation, models.CodeUnauthorized, models.CodeNotFound, models.CodeTransient:
	default:
		code = codeForStatus(status)
	}

	if code == models.CodeTransient {
		return models.NewTransientError(fmt.Errorf("status %d: %s", status, message))
	}
	return &models.AppError{Code: code, Message: message}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return models.CodeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.CodeUnauthorized
	case http.StatusNotFound:
		return models.CodeNotFound
	default:
		return models.CodeTransient
	}
}

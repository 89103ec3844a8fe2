package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
)

// StatusError keeps the raw status of an unexpected response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error [%d]: %s", e.StatusCode, e.Message)
}

// errorBody is the API failure shape: {"message": "...", "errors": [{field, message}]}
type errorBody struct {
	Message string              `json:"message"`
	Errors  []domain.FieldError `json:"errors"`
}

// decodeError maps a non-success response onto the client error taxonomy.
func decodeError(resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Message = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		msg := body.Message
		if msg == "" {
			msg = "validation failed"
		}
		return domain.ErrValidationFields(msg, body.Errors)
	case http.StatusUnauthorized:
		return &domain.Error{Kind: domain.KindAuth, Code: "unauthorized", Message: orDefault(body.Message, "unauthorized")}
	case http.StatusForbidden:
		return domain.ErrForbidden(orDefault(body.Message, "not allowed"))
	case http.StatusNotFound:
		return domain.ErrNotFound(orDefault(body.Message, "not found"))
	default:
		return domain.Wrap(domain.KindInternal, "unexpected_status",
			orDefault(body.Message, fmt.Sprintf("unexpected status: %d", resp.StatusCode)),
			&StatusError{StatusCode: resp.StatusCode, Message: body.Message})
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

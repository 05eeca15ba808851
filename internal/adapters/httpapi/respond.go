package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vivarium/internal/core"
	"vivarium/pkg/domain"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error      string              `json:"error"`
	Fields     []domain.FieldError `json:"fields,omitempty"`
	Violations []domain.Violation  `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Unmapped errors are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, logger core.Logger, err error) {
	status, body := serviceErrorBody(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func serviceErrorBody(err error) (int, errorBody) {
	var (
		nf domain.ErrNotFound
		ve domain.ValidationError
		rv domain.RuleViolationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: "validation failed", Fields: ve.Fields}
	case errors.As(err, &nf):
		return http.StatusNotFound, errorBody{Error: nf.Error()}
	case errors.As(err, &rv):
		return http.StatusConflict, errorBody{Error: rv.Error(), Violations: rv.Result.Violations}
	case errors.Is(err, core.ErrUserInactive):
		return http.StatusUnauthorized, errorBody{Error: "user blocked or deleted"}
	case errors.Is(err, domain.ErrNoCompanyAssigned):
		return http.StatusForbidden, errorBody{Error: "no company assigned"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden"}
	case errors.Is(err, domain.ErrAlreadyDeleted):
		return http.StatusConflict, errorBody{Error: "record already deleted"}
	case errors.Is(err, domain.ErrNotDeleted):
		return http.StatusConflict, errorBody{Error: "record is not deleted"}
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict, errorBody{Error: "qr code already claimed"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

// decodeJSON reads exactly one JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Message: "must contain a single JSON object"}}}
	}
	return nil
}

func bodyError(err error) error {
	var (
		syntax   *json.SyntaxError
		typeErr  *json.UnmarshalTypeError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Message: "required"}}}
	case errors.As(err, &syntax):
		return domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Message: fmt.Sprintf("malformed JSON at offset %d", syntax.Offset)}}}
	case errors.As(err, &typeErr):
		return domain.ValidationError{Fields: []domain.FieldError{{Field: typeErr.Field, Message: "expected " + typeErr.Type.String()}}}
	case errors.As(err, &tooLarge):
		return domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Message: "too large"}}}
	}
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return domain.ValidationError{Fields: []domain.FieldError{{Field: strings.Trim(name, `"`), Message: "unknown field"}}}
	}
	return domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Message: "malformed JSON"}}}
}

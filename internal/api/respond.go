// Package api holds the JSON envelope, request decoding and error mapping shared by
// every HTTP handler.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/domain"
)

// MaxBodyBytes bounds request bodies
const MaxBodyBytes = 1 << 20

// StatusClientClosedRequest is returned when the caller cancelled the request
const StatusClientClosedRequest = 499

// DateLayout is the accepted calendar date format; RFC 3339 timestamps are accepted too
const DateLayout = "2006-01-02"

// Responder writes envelopes and maps engine errors to HTTP statuses
type Responder struct {
	validate *validator.Validate
	log      zerolog.Logger
}

// NewResponder creates a responder whose validator reports JSON field names
func NewResponder(log zerolog.Logger) *Responder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Responder{validate: v, log: log}
}

// Decode reads a JSON body into dst and runs struct validation
func (rs *Responder) Decode(r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &domain.InvalidParameterError{Field: "body", Message: "request body is empty"}
		}
		return &domain.InvalidParameterError{Field: "body", Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return rs.Validate(dst)
}

// Validate runs struct validation and converts the first failure to InvalidParameterError
func (rs *Responder) Validate(v interface{}) error {
	err := rs.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.InvalidParameterError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Namespace()),
		}
	}
	return &domain.InvalidParameterError{Field: "body", Message: err.Error()}
}

// JSON writes data inside the standard envelope
func (rs *Responder) JSON(w http.ResponseWriter, status int, data interface{}) {
	rs.write(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Error maps err to its status and writes {"error": {"kind", "detail"}}
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)

	body := map[string]interface{}{
		"kind":   kind,
		"detail": err.Error(),
	}
	var agg *domain.AggregateTaskError
	if errors.As(err, &agg) {
		body["failures"] = agg.Failures
	}

	if status >= http.StatusInternalServerError {
		rs.log.Error().Err(err).Str("path", r.URL.Path).Str("kind", string(kind)).Int("status", status).Msg("Request failed")
	} else {
		rs.log.Debug().Err(err).Str("path", r.URL.Path).Str("kind", string(kind)).Int("status", status).Msg("Request rejected")
	}

	rs.write(w, status, map[string]interface{}{"error": body})
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidParameter:
		return http.StatusBadRequest
	case domain.KindInsufficientData, domain.KindInfeasible:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// ParseWindow parses start and end dates. An empty end means today (UTC); an empty start
// means one year before end.
func ParseWindow(start, end string) (domain.Window, error) {
	var w domain.Window
	var err error

	if end == "" {
		w.End = time.Now().UTC().Truncate(24 * time.Hour)
	} else if w.End, err = parseDate(end); err != nil {
		return domain.Window{}, &domain.InvalidParameterError{Field: "end", Message: err.Error()}
	}

	if start == "" {
		w.Start = w.End.AddDate(-1, 0, 0)
	} else if w.Start, err = parseDate(start); err != nil {
		return domain.Window{}, &domain.InvalidParameterError{Field: "start", Message: err.Error()}
	}

	return w, w.Validate()
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a YYYY-MM-DD date or RFC 3339 timestamp", s)
	}
	return t.UTC(), nil
}

func (rs *Responder) write(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		rs.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

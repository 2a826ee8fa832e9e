package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/access"
	"github.com/YoshitsuguKoike/repairdesk/internal/domain/model/intervention"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// readJSON decodes a request body, rejecting unknown trailing data
func readJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// statusFor maps an error kind to an HTTP status. An authorization
// failure is 401 for anonymous callers and 403 for authenticated ones.
func statusFor(r *http.Request, err error) int {
	switch intervention.KindOf(err) {
	case intervention.KindValidation:
		return http.StatusBadRequest
	case intervention.KindAuthorization:
		if access.FromContext(r.Context()).IsTechnician() {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case intervention.KindNotFound:
		return http.StatusNotFound
	case intervention.KindConflict:
		return http.StatusConflict
	case intervention.KindExpired:
		return http.StatusGone
	case intervention.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal failures are
// not echoed to the caller.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(r, err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		message = http.StatusText(status)
	}
	writeError(w, status, strings.ToUpper(string(intervention.KindOf(err))), message)
}

package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/YoshitsuguKoike/repairdesk/internal/application/dto"
)

// POST /api/interventions
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req dto.IssueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IssueKey == "" {
		req.IssueKey = key
	}
	if s.validator != nil {
		if err := s.validator.Validate(req.Report); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	result, err := s.issuer.Issue(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// GET /api/interventions/{id}/signature
func (s *Server) handleSignatureStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.query.SignatureStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, out)
}

// GET /api/interventions/{id}/qr.png
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.qr == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "qr rendering is not configured")
		return
	}
	url, err := s.query.SigningURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	png, err := s.qr.PNG(url)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GET /api/repairs/{repairId}/intervention
func (s *Server) handleLatestForRepair(w http.ResponseWriter, r *http.Request) {
	out, err := s.query.LatestForRepair(r.Context(), chi.URLParam(r, "repairId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /sign/{token}
func (s *Server) handleSigningPage(w http.ResponseWriter, r *http.Request) {
	view, err := s.signing.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		status := statusFor(r, err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("resolve signing page: %v", err)
		}
		http.Error(w, pageMessage(status), status)
		return
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, view); err != nil {
		s.logger.Error("render signing page: %v", err)
		http.Error(w, pageMessage(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// POST /sign/{token}
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req dto.SubmitSignatureRequest
	if err := readJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "signature too large")
			return
		}
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	result, err := s.signing.Submit(r.Context(), chi.URLParam(r, "token"), req.SignatureImage)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pageMessage(status int) string {
	switch status {
	case http.StatusNotFound, http.StatusBadRequest:
		return "This signing link is not valid."
	case http.StatusGone:
		return "This signing link has expired."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again shortly."
	default:
		return http.StatusText(status)
	}
}

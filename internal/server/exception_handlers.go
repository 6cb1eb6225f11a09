package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/quantcore/internal/modules/compliance"
)

// ExceptionRequestBody opens an exception. When Report is given the
// violation must be one of its violations.
type ExceptionRequestBody struct {
	ViolationID   string             `json:"violation_id" yaml:"violation_id" msgpack:"violation_id"`
	Justification string             `json:"justification" yaml:"justification" msgpack:"justification"`
	RequestedBy   string             `json:"requested_by" yaml:"requested_by" msgpack:"requested_by"`
	Report        *compliance.Report `json:"report,omitempty" yaml:"report,omitempty" msgpack:"report,omitempty"`
}

// ReviewBody approves or rejects an exception
type ReviewBody struct {
	Reviewer string `json:"reviewer" yaml:"reviewer" msgpack:"reviewer"`
}

// handleRequestException handles POST /api/exceptions
func (s *Server) handleRequestException(w http.ResponseWriter, r *http.Request) {
	var body ExceptionRequestBody
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.exceptions.Request(r.Context(), body.Report, body.ViolationID, body.Justification, body.RequestedBy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, req)
}

// handleGetException handles GET /api/exceptions/{id}
func (s *Server) handleGetException(w http.ResponseWriter, r *http.Request) {
	req, err := s.exceptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, req)
}

// handleExceptionHistory handles GET /api/exceptions/{id}/history
func (s *Server) handleExceptionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.exceptions.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, history)
}

// handleApproveException handles POST /api/exceptions/{id}/approve
func (s *Server) handleApproveException(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, true)
}

// handleRejectException handles POST /api/exceptions/{id}/reject
func (s *Server) handleRejectException(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, false)
}

func (s *Server) review(w http.ResponseWriter, r *http.Request, approve bool) {
	var body ReviewBody
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	var (
		req *compliance.ExceptionRequest
		err error
	)
	if approve {
		req, err = s.exceptions.Approve(r.Context(), id, body.Reviewer)
	} else {
		req, err = s.exceptions.Reject(r.Context(), id, body.Reviewer)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, req)
}

// handleExceptionsForViolation handles GET /api/exceptions/violations/{violationID}
func (s *Server) handleExceptionsForViolation(w http.ResponseWriter, r *http.Request) {
	requests, err := s.exceptions.ForViolation(r.Context(), chi.URLParam(r, "violationID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, requests)
}

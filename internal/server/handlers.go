package server

import (
	"errors"
	"net/http"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/quanterr"
)

// maxBodyBytes bounds decoded request bodies
const maxBodyBytes = 32 << 20

// ErrorBody is the payload of every failed request
type ErrorBody struct {
	Error ErrorDetail `json:"error" yaml:"error" msgpack:"error"`
}

// ErrorDetail carries the machine-readable code and message of a failure
type ErrorDetail struct {
	Code    string `json:"code" yaml:"code" msgpack:"code"`
	Message string `json:"message" yaml:"message" msgpack:"message"`
}

// decode reads the request body in the format named by Content-Type
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return codec.Decode(codec.FromContentType(r.Header.Get("Content-Type")), body, v)
}

// respond writes v in the format named by Accept, falling back to the
// request's Content-Type and then JSON.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	header := r.Header.Get("Accept")
	if header == "" || header == "*/*" {
		header = r.Header.Get("Content-Type")
	}
	format := codec.FromContentType(header)

	data, err := codec.Marshal(format, v)
	if err != nil {
		s.log.Error().Err(err).Str("format", string(format)).Msg("Failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

// fail maps err to its status and code
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := quanterr.HTTPStatus(err)
	code := quanterr.Code(err)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, compliance.ErrExceptionNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &tooLarge):
		status, code = http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE"
	}

	event := s.log.Warn()
	if status >= http.StatusInternalServerError {
		event = s.log.Error()
	}
	event.Err(err).
		Str("path", r.URL.Path).
		Str("code", code).
		Int("status", status).
		Msg("Request failed")

	s.respond(w, r, status, ErrorBody{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/hutch/pkg/apierr"
)

type responseMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

type successEnvelope struct {
	Success  bool             `json:"success"`
	Data     interface{}      `json:"data"`
	Metadata responseMetadata `json:"metadata"`
}

type errorEnvelope struct {
	Success  bool             `json:"success"`
	Error    *apierr.Error    `json:"error"`
	Metadata responseMetadata `json:"metadata"`
}

func (s *Server) metadata(r *http.Request) responseMetadata {
	return responseMetadata{Timestamp: time.Now().UTC(), RequestID: requestID(r)}
}

func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successEnvelope{
		Success:  true,
		Data:     data,
		Metadata: s.metadata(r),
	}); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apierr.From(err)
	status := apierr.HTTPStatus(ae.Code)
	if status >= 500 {
		s.logger.Error().Err(err).Str("request_id", requestID(r)).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(errorEnvelope{
		Success:  false,
		Error:    ae,
		Metadata: s.metadata(r),
	}); encErr != nil {
		s.logger.Error().Err(encErr).Msg("failed to encode error response")
	}
}

// decode parses a JSON request body into dst
func (s *Server) decode(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apierr.New(apierr.CodeMissingData, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.New(apierr.CodeValidation, "invalid JSON body: %s", err.Error()).
			WithHints("send a JSON object with Content-Type: application/json")
	}
	return nil
}

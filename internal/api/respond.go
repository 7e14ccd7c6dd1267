package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/safar/agri-supply-tracker/internal/apperr"
	"github.com/safar/agri-supply-tracker/internal/models"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the failure envelope shared by every endpoint.
type ErrorBody struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Error   string       `json:"error"`
	Popup   models.Popup `json:"popup"`
}

func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("encode JSON response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message, title, detail string) {
	RespondJSON(w, status, ErrorBody{
		Message: message,
		Error:   errorCode(status),
		Popup:   models.Popup{Type: models.PopupError, Title: title, Message: detail},
	})
}

// respondStoreError logs the low-level cause and answers with its classification only.
func (s *Server) respondStoreError(w http.ResponseWriter, op string, err error, message, title, detail string) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindRemoteUnavailable:
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("mirror store operation failed", zap.String("op", op), zap.Error(err))

	RespondJSON(w, status, ErrorBody{
		Message: message,
		Error:   string(apperr.KindOf(err)),
		Popup:   models.Popup{Type: models.PopupError, Title: title, Message: detail},
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperr.KindValidation)
	case http.StatusNotFound:
		return string(apperr.KindNotFound)
	default:
		return string(apperr.KindInternal)
	}
}

// DecodeBody reads a bounded JSON body into dst.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

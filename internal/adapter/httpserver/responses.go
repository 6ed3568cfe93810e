// Package httpserver contains the caller-facing HTTP handlers and middleware.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// apiError carries the request id so users can quote it to support.
type apiError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain taxonomy to a status and a message safe to show to end users.
// The underlying error is logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	msg := "Hệ thống đang gặp sự cố, vui lòng thử lại sau."
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
		msg = "Yêu cầu không hợp lệ, vui lòng kiểm tra câu hỏi và nội dung."
	case errors.Is(err, domain.ErrConfiguration):
		code = http.StatusInternalServerError
		codeStr = "CONFIG_MISSING"
		msg = "Dịch vụ chưa được cấu hình, vui lòng liên hệ quản trị viên."
	case errors.Is(err, domain.ErrCredentialsExhausted):
		code = http.StatusServiceUnavailable
		codeStr = "CREDENTIALS_EXHAUSTED"
		msg = "Hệ thống đang quá tải, vui lòng thử lại sau ít phút."
	case errors.Is(err, domain.ErrUpstreamFatal):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_FAILED"
		msg = "Không thể tạo câu trả lời lúc này, vui lòng thử lại sau."
	case errors.Is(err, domain.ErrEscalationDelivery):
		code = http.StatusBadGateway
		codeStr = "SUPPORT_UNREACHABLE"
		msg = "Không thể kết nối tới ban hỗ trợ, vui lòng thử lại sau."
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
		msg = "Không tìm thấy."
	}
	lg := observability.LoggerFromContext(r.Context())
	if code >= 500 {
		lg.Error("request failed", slog.String("code", codeStr), slog.Any("error", err))
	} else {
		lg.Warn("request rejected", slog.String("code", codeStr), slog.Any("error", err))
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{
		Code:      codeStr,
		Message:   msg,
		Details:   details,
		RequestID: observability.RequestIDFromContext(r.Context()),
	}})
}

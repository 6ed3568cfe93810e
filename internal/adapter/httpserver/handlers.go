package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ask-relay/internal/adapter/telegram"
	"github.com/fairyhunter13/ask-relay/internal/config"
	"github.com/fairyhunter13/ask-relay/internal/domain"
	"github.com/fairyhunter13/ask-relay/internal/usecase"
)

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskResult, error)
}

// UpdateHandler consumes Telegram updates delivered by webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u telegram.Update)
}

// Check is a named readiness check.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Ask     Asker
	Updates UpdateHandler
	Checks  []Check
}

// NewServer constructs a Server. updates may be nil when the webhook is not used.
func NewServer(cfg config.Config, ask Asker, updates UpdateHandler, checks ...Check) *Server {
	return &Server{Cfg: cfg, Ask: ask, Updates: updates, Checks: checks}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// chatRequest is the caller payload. Context may be empty for direct messages,
// which the usecase checks.
type chatRequest struct {
	Question  string `json:"question" validate:"required,max=4000"`
	Context   string `json:"context"`
	SessionID string `json:"session_id" validate:"omitempty,max=64"`
}

type chatResponse struct {
	Answer    string `json:"answer"`
	Escalated bool   `json:"escalated"`
}

// ChatHandler answers a question from the pasted context.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.MaxBodyMB*1024*1024)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "INVALID_ARGUMENT",
					Message: "Nội dung quá lớn.",
					Details: map[string]any{"max_mb": s.Cfg.MaxBodyMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		res, err := s.Ask.Ask(r.Context(), usecase.AskInput{
			Question:  req.Question,
			Context:   req.Context,
			SessionID: req.SessionID,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Answer: res.Answer, Escalated: res.Escalated})
	}
}

// HealthHandler is the liveness payload the web client polls.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is alive"})
	}
}

// ReadyzHandler runs every configured check.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			if err := c.Fn(ctx); err != nil {
				checks = append(checks, check{Name: c.Name, OK: false, Details: err.Error()})
				ok = false
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// TelegramWebhookHandler accepts Bot API updates guarded by the secret token header.
func (s *Server) TelegramWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Updates == nil {
			writeError(w, r, fmt.Errorf("%w: webhook disabled", domain.ErrNotFound), nil)
			return
		}
		secret := s.Cfg.TelegramWebhookKey
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{Code: "UNAUTHORIZED", Message: "unauthorized"}})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var u telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid update", domain.ErrInvalidArgument), nil)
			return
		}
		s.Updates.HandleUpdate(r.Context(), u)
		w.WriteHeader(http.StatusOK)
	}
}

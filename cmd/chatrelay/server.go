package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatrelay/internal/constants"
	apperrors "chatrelay/internal/errors"
	"chatrelay/internal/models"
	"chatrelay/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SignatureHeader carries the provider's HMAC signature on webhook calls.
const SignatureHeader = "X-Signature"

// APIKeyHeader authenticates operator API calls.
const APIKeyHeader = "X-API-Key"

type Server struct {
	router        *mux.Router
	logger        *logrus.Logger
	ingestion     *service.IngestionGateway
	replies       *service.ReplyGateway
	conversations *service.ConversationReader
	operators     map[string]string
	server        *http.Server
}

func NewServer(cfg *models.Config, ingestion *service.IngestionGateway, replies *service.ReplyGateway, conversations *service.ConversationReader, logger *logrus.Logger) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		logger:        logger,
		ingestion:     ingestion,
		replies:       replies,
		conversations: conversations,
		operators:     cfg.Operators,
	}

	s.setupRoutes()

	port := cfg.Server.Port
	if port <= 0 {
		port = constants.DefaultServerPort
	}
	readTimeout := cfg.Server.ReadTimeoutSec
	if readTimeout <= 0 {
		readTimeout = constants.DefaultServerReadTimeoutSec
	}
	writeTimeout := cfg.Server.WriteTimeoutSec
	if writeTimeout <= 0 {
		writeTimeout = constants.DefaultServerWriteTimeoutSec
	}
	idleTimeout := cfg.Server.IdleTimeoutSec
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultServerIdleTimeoutSec
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  time.Duration(idleTimeout) * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/webhooks/{source_slug}/incoming/", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireOperator)
	api.HandleFunc("/conversations/", s.handleListConversations()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversation_id}/", s.handleGetConversation()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversation_id}/reply/", s.handleReply()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.logger.Infof("Starting server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requireOperator maps the API key header to an operator name and stashes it
// in the request context.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		operator, ok := s.operators[key]
		if key == "" || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid API key"})
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey{}, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type operatorContextKey struct{}

func operatorFrom(r *http.Request) string {
	operator, _ := r.Context().Value(operatorContextKey{}).(string)
	return operator
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceSlug := mux.Vars(r)["source_slug"]

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "failed to read body"})
			return
		}

		result, err := s.ingestion.Receive(r.Context(), sourceSlug, body, headerMap(r.Header), r.Header.Get(SignatureHeader))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleReply() http.HandlerFunc {
	type request struct {
		Text string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["conversation_id"]

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"body": "invalid JSON"})
			return
		}

		result, err := s.replies.Reply(r.Context(), conversationID, req.Text, operatorFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator := ""
		if r.URL.Query().Get("mine") == "1" {
			operator = operatorFrom(r)
		}

		summaries, err := s.conversations.List(r.Context(), operator)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, summaries)
	}
}

func (s *Server) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := s.conversations.Get(r.Context(), mux.Vars(r)["conversation_id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

// writeError maps application error codes onto HTTP statuses. Validation
// failures echo their per-field messages so callers can see what to fix.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.logger.WithError(err).Error("Unhandled request error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}

	switch appErr.Code {
	case apperrors.ErrCodeUnauthorized:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": apperrors.GetUserMessage(appErr)})
	case apperrors.ErrCodeNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": apperrors.GetUserMessage(appErr)})
	case apperrors.ErrCodeValidationFailed:
		body := map[string]interface{}{}
		for field, msg := range appErr.Context {
			body[field] = msg
		}
		if len(body) == 0 {
			body["detail"] = apperrors.GetUserMessage(appErr)
		}
		writeJSON(w, http.StatusBadRequest, body)
	default:
		s.logger.WithError(appErr).WithField("path", r.URL.Path).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
	}
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

// Package server exposes the fetch and reply pipelines over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/yuin/goldmark"

	"github.com/dhcgn/inbox-assistant/decoder"
	"github.com/dhcgn/inbox-assistant/model"
)

const maxRequestBody = 1 << 20

type Fetcher interface {
	FetchLatest(ctx context.Context, req model.FetchRequest) (model.FetchResult, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	// Credentials are injected into every fetch; callers never send them.
	Credentials    model.Credentials
	Folder         string
	DefaultWindow  int
	MaxWindow      int
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type Server struct {
	fetcher   Fetcher
	generator Generator
	opts      Options
	logger    *slog.Logger
}

func New(fetcher Fetcher, generator Generator, opts Options, logger *slog.Logger) *Server {
	if opts.DefaultWindow < 1 {
		opts.DefaultWindow = 10
	}
	if opts.MaxWindow < opts.DefaultWindow {
		opts.MaxWindow = opts.DefaultWindow
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{fetcher: fetcher, generator: generator, opts: opts, logger: logger}
}

// Handler returns the routed handler wrapped in CORS and the body limit.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/emails", s.handleEmails).Methods(http.MethodGet)
	r.HandleFunc("/generate-reply", s.handleGenerateReply).Methods(http.MethodPost)
	r.Use(requestSizeLimit(maxRequestBody))

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.RequestTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func requestSizeLimit(limit int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// emailView adds the field names older clients read: body (html, else
// text), from, date and text (html-only mail converted to markdown).
type emailView struct {
	model.Message
	Body string     `json:"body"`
	From string     `json:"from"`
	Date *time.Time `json:"date,omitempty"`
	Text string     `json:"text"`
}

func (s *Server) view(m model.Message) emailView {
	body := m.BodyHTML
	if body == "" {
		body = m.BodyText
	}
	text, err := decoder.TextBody(m)
	if err != nil {
		s.logger.Debug("html body conversion failed", "seq", m.SeqNum, "err", err)
	}
	return emailView{Message: m, Body: body, From: m.Sender, Date: m.Timestamp, Text: text}
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	window, err := s.window(r.URL.Query().Get("window"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	folder := r.URL.Query().Get("folder")
	if folder == "" {
		folder = s.opts.Folder
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	res, err := s.fetcher.FetchLatest(ctx, model.FetchRequest{
		Credentials: s.opts.Credentials,
		Folder:      folder,
		WindowSize:  window,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]emailView, 0, len(res.Messages))
	for _, m := range res.Messages {
		views = append(views, s.view(m))
	}
	writeJSON(w, http.StatusOK, views)
}

// window parses the window query value, defaulting and clamping it.
func (s *Server) window(raw string) (int, error) {
	if raw == "" {
		return s.opts.DefaultWindow, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, model.NewError(model.KindValidation, "window must be a positive integer", err)
	}
	return min(n, s.opts.MaxWindow), nil
}

type replyResponse struct {
	Reply     string `json:"reply"`
	ReplyHTML string `json:"reply_html"`
	Tone      string `json:"tone"`
}

func (s *Server) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	var body replyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large", Kind: string(model.KindValidation)})
			return
		}
		s.writeError(w, r, model.NewError(model.KindValidation, "request body must be a JSON object", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	reply, tone, err := generateReply(ctx, s.generator, body.toModel())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	html, err := renderMarkdown(reply)
	if err != nil {
		s.logger.Warn("reply markdown render failed", "err", err)
	}
	writeJSON(w, http.StatusOK, replyResponse{Reply: reply, ReplyHTML: html, Tone: tone})
}

func renderMarkdown(md string) (string, error) {
	if md == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusFor maps an error kind to the HTTP status returned to callers.
func StatusFor(err error) int {
	kind, _ := model.KindOf(err)
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAuth:
		return http.StatusUnauthorized
	case model.KindFolder:
		return http.StatusNotFound
	case model.KindConnection, model.KindUpstream:
		return http.StatusBadGateway
	case model.KindTransport:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind, _ := model.KindOf(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "kind", kind, "err", err)
	writeJSON(w, status, errorResponse{Error: model.PublicMessage(err), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

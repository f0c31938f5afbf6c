package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/kiro-gateway/internal/auth"
	"github.com/tjfontaine/kiro-gateway/internal/codec/anthropic"
	"github.com/tjfontaine/kiro-gateway/internal/codec/gemini"
	"github.com/tjfontaine/kiro-gateway/internal/codec/openai"
	"github.com/tjfontaine/kiro-gateway/internal/domain"
	"github.com/tjfontaine/kiro-gateway/internal/pipeline"
	"github.com/tjfontaine/kiro-gateway/internal/tokens"
	"github.com/tjfontaine/kiro-gateway/internal/upstream"
)

// idleTimeout is the server-wide connection idle timeout (spec §5); the
// teacher's bare http.ListenAndServe never sets one.
const idleTimeout = 255 * time.Second

// Server is the thin HTTP frontdoor wiring the four inbound dialect routes
// (spec §6) onto the Translation Pipeline. It is explicitly an out-of-core
// "external collaborator" — built only so cmd/gateway is runnable and
// exercises internal/pipeline, internal/upstream, and internal/auth end to
// end.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	authenticator *auth.Authenticator
	clientOpts    upstream.ClientOptions
	counter       *tokens.Counter
	maxInputTokens int
	toolDescriptionMaxLength int

	openaiCodec    *openai.Codec
	anthropicCodec *anthropic.Codec
	geminiCodec    *gemini.Codec
}

// Options configures a Server.
type Options struct {
	Authenticator            *auth.Authenticator
	ClientOptions             upstream.ClientOptions
	Counter                   *tokens.Counter
	MaxInputTokens            int
	ToolDescriptionMaxLength  int
}

// New builds a Server with the four dialect routes and the teacher's
// middleware chain (RequestID -> Logging -> Auth -> RateLimitNormalizing ->
// Timeout -> Recoverer -> otelhttp); Auth lets /health through without
// credentials. RATE_LIMIT_PER_MINUTE is recognized by
// internal/config but never enforced here, per spec §1's explicit
// rate-limiting Non-goal.
func New(port int, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		Port:                     port,
		logger:                   logger,
		authenticator:            opts.Authenticator,
		clientOpts:               opts.ClientOptions,
		counter:                  opts.Counter,
		maxInputTokens:           opts.MaxInputTokens,
		toolDescriptionMaxLength: opts.ToolDescriptionMaxLength,
		openaiCodec:              openai.NewWithToolDescriptionMaxLength(opts.ToolDescriptionMaxLength),
		anthropicCodec:           anthropic.NewWithToolDescriptionMaxLength(opts.ToolDescriptionMaxLength),
		geminiCodec:              gemini.NewWithToolDescriptionMaxLength(opts.ToolDescriptionMaxLength),
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if s.authenticator != nil {
		authMW := AuthMiddleware(s.authenticator, WriteOpenAIError)
		r.Use(func(next http.Handler) http.Handler {
			authed := authMW(next)
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.URL.Path == "/health" {
					next.ServeHTTP(w, req)
					return
				}
				authed.ServeHTTP(w, req)
			})
		})
	}
	r.Use(RateLimitNormalizingMiddleware)
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "kiro-gateway")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/v1/models", s.handleListModels)
	r.Post("/v1/chat/completions", s.handleOpenAI)
	r.Post("/v1/messages", s.handleAnthropic)
	r.Post("/v1beta/models/{model}:generateContent", s.handleGemini)
	r.Post("/v1beta/models/{model}:streamGenerateContent", s.handleGemini)

	s.Router = r
	return s
}

func (s *Server) Start() error {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.Port),
		Handler:     s.Router,
		IdleTimeout: idleTimeout,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// newPipeline builds a request-scoped upstream.Client bound to the
// credential Manager AuthMiddleware resolved for this caller (spec §6
// "Multi-tenant isolation") and wraps it in a Pipeline. Constructing a
// Client per request is cheap — NewClient only assigns struct fields.
func (s *Server) newPipeline(r *http.Request) *pipeline.Pipeline {
	mgr := GetManager(r.Context())
	client := upstream.NewClient(mgr, s.clientOpts)
	return pipeline.New(client, pipeline.Options{
		Counter:        s.counter,
		Logger:         s.logger,
		MaxInputTokens: s.maxInputTokens,
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	mgr := GetManager(r.Context())
	client := upstream.NewClient(mgr, s.clientOpts)
	list, err := client.ListModels(r.Context())
	if err != nil {
		gwErr, ok := err.(*domain.GatewayError)
		if !ok {
			gwErr = domain.ErrInternal(err.Error())
		}
		WriteOpenAIError(w, gwErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (s *Server) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	body, _ := readBody(r)
	req, err := s.openaiCodec.DecodeRequest(body)
	if err != nil {
		WriteOpenAIError(w, domain.ErrValidation(err.Error()))
		return
	}

	p := s.newPipeline(r)
	if req.Stream {
		if err := p.StreamToOpenAI(r.Context(), w, req); err != nil {
			s.logger.Error("stream to openai failed", "error", err)
		}
		return
	}

	resp, err := p.Collect(r.Context(), req)
	if err != nil {
		gwErr, ok := err.(*domain.GatewayError)
		if !ok {
			gwErr = domain.ErrInternal(err.Error())
		}
		WriteOpenAIError(w, gwErr)
		return
	}
	out, err := s.openaiCodec.EncodeResponse(resp)
	if err != nil {
		WriteOpenAIError(w, domain.ErrInternal(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	body, _ := readBody(r)
	req, err := s.anthropicCodec.DecodeRequest(body)
	if err != nil {
		WriteAnthropicError(w, domain.ErrValidation(err.Error()))
		return
	}

	p := s.newPipeline(r)
	if req.Stream {
		if err := p.StreamToAnthropic(r.Context(), w, req); err != nil {
			s.logger.Error("stream to anthropic failed", "error", err)
		}
		return
	}

	resp, err := p.Collect(r.Context(), req)
	if err != nil {
		gwErr, ok := err.(*domain.GatewayError)
		if !ok {
			gwErr = domain.ErrInternal(err.Error())
		}
		WriteAnthropicError(w, gwErr)
		return
	}
	out, err := s.anthropicCodec.EncodeResponse(resp)
	if err != nil {
		WriteAnthropicError(w, domain.ErrInternal(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// handleGemini serves both the generateContent and streamGenerateContent
// routes; which one fires is determined by the path suffix chi matched, not
// by a body field — Gemini carries its model and streaming intent in the
// URL, not the JSON payload (spec §4.3).
func (s *Server) handleGemini(w http.ResponseWriter, r *http.Request) {
	body, _ := readBody(r)
	req, err := s.geminiCodec.DecodeRequest(body)
	if err != nil {
		WriteGeminiError(w, domain.ErrValidation(err.Error()))
		return
	}
	req.Model = chi.URLParam(r, "model")
	req.Stream = chi.RouteContext(r.Context()).RoutePattern() == "/v1beta/models/{model}:streamGenerateContent"

	p := s.newPipeline(r)
	if req.Stream {
		if err := p.StreamToGemini(r.Context(), w, req); err != nil {
			s.logger.Error("stream to gemini failed", "error", err)
		}
		return
	}

	resp, err := p.Collect(r.Context(), req)
	if err != nil {
		gwErr, ok := err.(*domain.GatewayError)
		if !ok {
			gwErr = domain.ErrInternal(err.Error())
		}
		WriteGeminiError(w, gwErr)
		return
	}
	out, err := s.geminiCodec.EncodeResponse(resp)
	if err != nil {
		WriteGeminiError(w, domain.ErrInternal(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

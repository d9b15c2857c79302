// ABOUTME: HTTP server exposing the chat streaming API and conversation transcript pages.
// ABOUTME: Wires the generation engine, task registry, persister, and protocol writer behind a chi router.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/fluxchat/fluxchat/engine"
	"github.com/fluxchat/fluxchat/llm"
	"github.com/fluxchat/fluxchat/protocol"
	"github.com/fluxchat/fluxchat/store"
	"github.com/fluxchat/fluxchat/task"
	"github.com/fluxchat/fluxchat/tools"
)

const systemPrompt = "You are a helpful assistant. Answer clearly and concisely. " +
	"Use the available tools when the user's request calls for current information or image generation."

// Server is the fluxchat HTTP server.
type Server struct {
	cfg       *Config
	router    chi.Router
	engine    *engine.Engine
	tasks     *task.Registry
	store     *store.SqliteStore
	persister *store.Persister
	templates *TemplateRenderer
	titler    *Titler
}

// NewServer creates a Server from the given configuration and tool registry.
// It opens the sqlite store under cfg.Home and builds the streaming LLM
// client against cfg.BaseURL.
func NewServer(cfg *Config, toolset *tools.Registry) (*Server, error) {
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := store.OpenSqlite(filepath.Join(cfg.Home, "fluxchat.db"))
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}

	clientOpts := []llm.ClientOption{}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, llm.WithBaseURL(cfg.BaseURL))
	}
	client := llm.NewClient(cfg.APIKey, cfg.Model, clientOpts...)

	tasks := task.NewRegistry(cfg.CompletedTTL, cfg.PausedTTL)
	persister := store.NewPersister(db)

	templates, err := NewTemplateRenderer()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing templates: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		engine: engine.New(client, toolset, tasks, persister, engine.Config{
			Model:          cfg.Model,
			EnableThinking: cfg.EnableThinking,
			ThinkingBudget: cfg.ThinkingBudget,
		}),
		tasks:     tasks,
		store:     db,
		persister: persister,
		templates: templates,
		titler:    NewTitler(cfg.APIKey, cfg.TitleModel, cfg.BaseURL),
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured address. The sweep
// loop for expired generation tasks runs until ctx is cancelled. The write
// timeout is generous because generations stream for minutes.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.tasks.Run(ctx, time.Minute)

	srv := &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("server listening addr=%s", s.cfg.Bind)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases the server's resources.
func (s *Server) Close() error {
	return s.store.Close()
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.cfg.AuthToken != "" {
		r.Use(AuthMiddleware(s.cfg.AuthToken))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", s.handleChat)
		r.Route("/{messageID}", func(r chi.Router) {
			r.Get("/resume", s.handleResume)
			r.Post("/stop", s.handleStop)
			r.Post("/tools/{toolCallID}/cancel", s.handleToolCancel)
		})
	})

	r.Get("/conversations/{conversationID}", s.handleConversationPage)

	if s.cfg.ImageModel != "" {
		imagesDir := filepath.Join(s.cfg.Home, "images")
		r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.Dir(imagesDir))))
	}

	return r
}

// BuildToolRegistry assembles the tool registry from configuration. Tools
// whose backends are not configured are left out; the engine runs fine with
// an empty registry.
func BuildToolRegistry(cfg *Config) (*tools.Registry, error) {
	reg := tools.NewRegistry()

	if cfg.SearchURL != "" {
		reg.Register(tools.NewWebSearchTool(tools.NewHTTPSearcher(cfg.SearchURL)))
	}

	if cfg.ImageModel != "" {
		imageStore, err := tools.NewFileImageStore(filepath.Join(cfg.Home, "images"), "/images")
		if err != nil {
			return nil, err
		}
		generator := tools.NewOpenAIImageGenerator(cfg.APIKey, cfg.ImageModel, cfg.BaseURL)
		reg.Register(tools.NewGenerateImageTool(generator, imageStore))
	}

	return reg, nil
}

// handleHealth returns a JSON health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Message        string `json:"message"`
}

// handleChat starts a generation and streams it back over SSE. Response
// headers identify the session, conversation, and message; a new
// conversation additionally carries its generated title.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	newConversation := req.ConversationID == ""
	conversationID := req.ConversationID
	if newConversation {
		conversationID = ulid.Make().String()
	}
	messageID := ulid.Make().String()
	sessionID := uuid.New().String()

	// History must load before headers are written so request errors can
	// still produce a non-200 status.
	history, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		log.Printf("list messages failed conversation=%s error=%v", conversationID, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	w.Header().Set("X-Session-Id", sessionID)
	w.Header().Set("X-Conversation-Id", conversationID)
	w.Header().Set("X-Message-Id", messageID)
	if newConversation {
		w.Header().Set("X-Conversation-Title", s.conversationTitle(r.Context(), req.Message))
	}
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := s.persistUserMessage(r.Context(), conversationID, req.Message); err != nil {
		log.Printf("persist user message failed conversation=%s error=%v", conversationID, err)
	}

	messages := buildConversation(history, req.Message)
	writer := protocol.NewWriter(w, sessionID)
	err = s.engine.Run(r.Context(), engine.RunParams{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         req.UserID,
		Messages:       messages,
	}, writer)
	if err != nil {
		log.Printf("generation failed message=%s error=%v", messageID, err)
	}
}

// handleResume replays the unsent portion of a generation to a reconnecting
// client. The replay always ends with the completion sentinel; the task's
// status is unchanged apart from its sent markers.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	t, ok := s.tasks.Get(messageID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown message")
		return
	}

	sessionID := uuid.New().String()
	w.Header().Set("X-Session-Id", sessionID)
	w.Header().Set("X-Conversation-Id", t.ConversationID)
	w.Header().Set("X-Message-Id", t.MessageID)
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	writer := protocol.NewWriter(w, sessionID)
	thinking, content, ok := s.tasks.GetUnsent(messageID)
	if ok {
		if thinking != "" {
			writer.SendThinking(thinking)
		}
		if content != "" {
			writer.SendAnswer(content)
		}
		s.tasks.MarkAllSent(messageID)
	}

	if t.Status == task.StatusError {
		writer.Error("generation failed")
		return
	}
	writer.SendComplete()
}

// handleStop aborts the active generation for a message. The engine pauses
// the task and persists the partial result on its own cancellation path, so
// this endpoint only triggers the cancel.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	if !s.engine.Stop(messageID) {
		writeJSONError(w, http.StatusNotFound, "no active generation")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}

// handleToolCancel cancels one running tool call without stopping the
// generation or its sibling tools.
func (s *Server) handleToolCancel(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	toolCallID := chi.URLParam(r, "toolCallID")
	if !s.engine.CancelTool(messageID, toolCallID) {
		writeJSONError(w, http.StatusNotFound, "no such tool call")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "cancelling"})
}

// conversationPageData feeds the transcript template.
type conversationPageData struct {
	Title    string
	Messages []store.StoredMessage
}

// handleConversationPage renders the persisted transcript of a conversation.
func (s *Server) handleConversationPage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	messages, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		log.Printf("list messages failed conversation=%s error=%v", conversationID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if len(messages) == 0 {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	data := conversationPageData{
		Title:    "Conversation " + conversationID,
		Messages: messages,
	}
	if err := s.templates.Render(w, "conversation", data); err != nil {
		log.Printf("render conversation failed conversation=%s error=%v", conversationID, err)
	}
}

// conversationTitle generates a title for a new conversation, falling back
// to a truncation of the first message when the provider call fails.
func (s *Server) conversationTitle(ctx context.Context, firstMessage string) string {
	titleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	title, err := s.titler.Title(titleCtx, firstMessage)
	if err != nil {
		log.Printf("title generation failed error=%v", err)
		return FallbackTitle(firstMessage)
	}
	return title
}

// persistUserMessage records the user's message so transcripts and future
// rounds include it.
func (s *Server) persistUserMessage(ctx context.Context, conversationID, message string) error {
	return s.store.Persist(ctx, ulid.Make().String(), store.MessageRecord{
		ConversationID: conversationID,
		Role:           "user",
		Content:        message,
	})
}

// buildConversation assembles the LLM message list: system prompt, persisted
// history as plain text turns, then the new user message. Tool internals from
// prior messages stay out of the context window; only their final text does.
func buildConversation(history []store.StoredMessage, userMessage string) []llm.Message {
	messages := []llm.Message{llm.SystemMessage(systemPrompt)}
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "user":
			messages = append(messages, llm.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, llm.AssistantMessage(m.Content))
		}
	}
	return append(messages, llm.UserMessage(userMessage))
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

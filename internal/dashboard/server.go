package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NotiFansly/dashbot/internal/bot"
	"github.com/NotiFansly/dashbot/internal/database"
	"github.com/NotiFansly/dashbot/internal/embed"
	"github.com/NotiFansly/dashbot/internal/models"
)

// Controller opens and closes the bot's gateway session. Implemented by *bot.Bot.
type Controller interface {
	StartSession() error
	StopSession() error
}

// EmbedStore is implemented by *database.Repository.
type EmbedStore interface {
	CreateEmbedDraft(draft *models.EmbedDraft) error
	GetEmbedDraft(id uint) (*models.EmbedDraft, error)
}

type Server struct {
	publisher  *Publisher
	snapshots  SnapshotSource
	controller Controller
	embeds     EmbedStore
	gatherer   prometheus.Gatherer
	activity   Activity
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
}

func NewServer(publisher *Publisher, snapshots SnapshotSource, controller Controller, embeds EmbedStore, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		publisher:  publisher,
		snapshots:  snapshots,
		controller: controller,
		embeds:     embeds,
		gatherer:   gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /bot_status", s.handleStatus)
	s.mux.HandleFunc("POST /bot_action", s.handleAction)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("POST /embeds", s.handleCreateEmbed)
	s.mux.HandleFunc("GET /embeds/{id}", s.handleGetEmbed)
	s.mux.HandleFunc("GET /activity", s.handleActivity)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Dashboard server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Error running dashboard server: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots.Snapshot(r.Context()))
}

type actionRequest struct {
	Action string `json:"action"`
}

type actionResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Status: "Invalid action"})
		return
	}

	var err error
	var msg string
	switch req.Action {
	case "start":
		err = s.controller.StartSession()
		msg = "Bot started"
	case "stop":
		err = s.controller.StopSession()
		msg = "Bot stopped"
	default:
		writeJSON(w, http.StatusBadRequest, actionResponse{Status: "Invalid action"})
		return
	}

	// starting a running bot or stopping a stopped one is a no-op
	if errors.Is(err, bot.ErrSessionOpen) || errors.Is(err, bot.ErrSessionClosed) {
		err = nil
	}
	if err != nil {
		log.Printf("Error handling bot action %q: %v", req.Action, err)
		writeJSON(w, http.StatusInternalServerError, actionResponse{Status: err.Error()})
		return
	}
	log.Printf("Bot action %q requested from dashboard", req.Action)
	writeJSON(w, http.StatusOK, actionResponse{Status: msg})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newWSClient(uuid.NewString(), conn)
	go client.writeLoop()

	if err := s.publisher.OnConnect(r.Context(), client); err != nil {
		log.Printf("Error sending initial snapshot to dashboard client %s: %v", client.ID(), err)
		client.Close()
		return
	}

	client.readLoop()
	s.publisher.OnDisconnect(client.ID())
	client.Close()
}

type embedRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       string `json:"color"`
	ImageURL    string `json:"image_url"`
	Footer      string `json:"footer"`
	Author      string `json:"author"`
	Timestamp   bool   `json:"timestamp"`
	CreatedBy   string `json:"created_by"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	color, err := embed.ParseColor(req.Color)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	draft := &models.EmbedDraft{
		Title:       req.Title,
		Description: req.Description,
		Color:       color,
		ImageURL:    req.ImageURL,
		Footer:      req.Footer,
		Author:      req.Author,
		Timestamp:   req.Timestamp,
		CreatedBy:   req.CreatedBy,
	}
	if err := embed.Validate(*draft); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.embeds.CreateEmbedDraft(draft); err != nil {
		log.Printf("Error storing embed draft: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not store embed"})
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleGetEmbed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "embed id must be a positive integer"})
		return
	}

	draft, err := s.embeds.GetEmbedDraft(uint(id))
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "embed not found"})
		return
	}
	if err != nil {
		log.Printf("Error loading embed draft %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load embed"})
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

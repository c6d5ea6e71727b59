// Package api exposes a read-only market-data surface over HTTP and
// websockets: top-of-book and depth snapshots pushed in by the caller,
// and a websocket hub that fans out the trade events handed to
// PublishTrade. The simulator stays fully functional headless; the
// server is optional.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Server publishes simulator state over REST and websocket. Snapshots are
// pushed in through PublishL1 and PublishBook; handlers only read the
// latest copies.
type Server struct {
	router *mux.Router
	hub    *Hub

	mu sync.RWMutex
	l1 map[types.BookID]message.L1Snapshot
	l2 map[types.BookID]message.BookSnapshot

	log *zap.SugaredLogger
}

// NewServer builds the router and hub.
func NewServer(log *zap.SugaredLogger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		hub:    NewHub(log),
		l1:     make(map[types.BookID]message.L1Snapshot),
		l2:     make(map[types.BookID]message.BookSnapshot),
		log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/books/{id:[0-9]+}/l1", s.handleL1).Methods(http.MethodGet)
	api.HandleFunc("/books/{id:[0-9]+}/l2", s.handleL2).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.serveWS)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// PublishL1 stores the latest top-of-book snapshot for a book.
func (s *Server) PublishL1(snap message.L1Snapshot) {
	s.mu.Lock()
	s.l1[snap.BookID] = snap
	s.mu.Unlock()
}

// PublishBook stores the latest depth snapshot for a book.
func (s *Server) PublishBook(snap message.BookSnapshot) {
	s.mu.Lock()
	s.l2[snap.BookID] = snap
	s.mu.Unlock()
}

// PublishTrade fans a trade event out to websocket clients.
func (s *Server) PublishTrade(payload message.EventTradePayload) {
	s.hub.Broadcast(payload)
}

func (s *Server) handleL1(w http.ResponseWriter, r *http.Request) {
	bookID, ok := s.bookID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	snap, ok := s.l1[bookID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleL2(w http.ResponseWriter, r *http.Request) {
	bookID, ok := s.bookID(w, r)
	if !ok {
		return
	}
	s.mu.RLock()
	snap, ok := s.l2[bookID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) bookID(w http.ResponseWriter, r *http.Request) (types.BookID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		http.Error(w, "bad book id", http.StatusBadRequest)
		return 0, false
	}
	return types.BookID(id), true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("api_encode_failed", "err", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/miethe/boxbrain/internal/models"
)

// Server provides the HTTP API for Boxbrain.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Play catalog
	mux.HandleFunc("/plays", s.handlePlays)
	mux.HandleFunc("/plays/", s.handlePlayByID)

	// Matching
	mux.HandleFunc("/match", s.handleMatch)
	mux.HandleFunc("/dictionary", s.handleDictionary)

	// Opportunities and everything nested under them
	mux.HandleFunc("/opportunities", s.handleOpportunities)
	mux.HandleFunc("/opportunities/", s.handleOpportunityByID)

	// Stage notes
	mux.HandleFunc("/notes", s.handleNotes)
	mux.HandleFunc("/notes/", s.handleNoteByID)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting boxbrain daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// writeError maps service sentinels to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPlayNotFound),
		errors.Is(err, ErrOpportunityNotFound),
		errors.Is(err, ErrStageNotFound),
		errors.Is(err, ErrNoteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAlreadyAttached), errors.Is(err, ErrConflict):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Play Catalog Handlers ---

// handlePlays handles POST /plays and GET /plays
func (s *Server) handlePlays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var p models.PlayTemplate
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		created, err := s.service.CreatePlay(&p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		plays, err := s.service.ListPlays()
		if err != nil {
			writeError(w, err)
			return
		}
		if plays == nil {
			plays = []models.PlayTemplate{}
		}
		writeJSON(w, http.StatusOK, plays)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePlayByID handles GET /plays/{id}
func (s *Server) handlePlayByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/plays/")
	if id == "" {
		http.Error(w, "play id required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	play, err := s.service.GetPlay(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, play)
}

// --- Matching Handlers ---

// handleMatch handles POST /match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var query models.OpportunityQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ranked, err := s.service.MatchPlays(query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// handleDictionary handles GET /dictionary
func (s *Server) handleDictionary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dict, err := s.service.GetDictionary()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dict)
}

// --- Opportunity Handlers ---

// handleOpportunities handles POST /opportunities and GET /opportunities
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var input CreateOpportunityInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		opp, err := s.service.CreateOpportunity(input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, opp)
	case http.MethodGet:
		opps, err := s.service.ListOpportunities()
		if err != nil {
			writeError(w, err)
			return
		}
		if opps == nil {
			opps = []models.Opportunity{}
		}
		writeJSON(w, http.StatusOK, opps)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOpportunityByID handles /opportunities/{id}/*
func (s *Server) handleOpportunityByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/opportunities/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "opportunity id required", http.StatusBadRequest)
		return
	}

	oppID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getOpportunity(w, r, oppID)
	case action == "" && r.Method == http.MethodPatch:
		s.updateOpportunity(w, r, oppID)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteOpportunity(w, r, oppID)
	case action == "plays":
		s.handleOpportunityPlays(w, r, oppID, parts[2:])
	case action == "team":
		s.handleOpportunityTeam(w, r, oppID, parts[2:])
	case action == "activity" && r.Method == http.MethodGet:
		s.getActivity(w, r, oppID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getOpportunity(w http.ResponseWriter, r *http.Request, id string) {
	opp, err := s.service.GetOpportunity(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (s *Server) updateOpportunity(w http.ResponseWriter, r *http.Request, id string) {
	var input UpdateOpportunityInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	opp, err := s.service.UpdateOpportunity(id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (s *Server) deleteOpportunity(w http.ResponseWriter, r *http.Request, id string) {
	actorID := r.URL.Query().Get("actor_id")
	if err := s.service.DeleteOpportunity(id, actorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"deleted"}`))
}

// handleOpportunityPlays handles /opportunities/{id}/plays/*
func (s *Server) handleOpportunityPlays(w http.ResponseWriter, r *http.Request, oppID string, rest []string) {
	switch {
	case len(rest) == 0 || rest[0] == "":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var input AttachPlayInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		opp, err := s.service.AttachPlay(oppID, input)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, opp)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		actorID := r.URL.Query().Get("actor_id")
		opp, err := s.service.DetachPlay(oppID, rest[0], actorID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	case len(rest) == 2 && rest[1] == "resync" && r.Method == http.MethodPost:
		actorID := r.URL.Query().Get("actor_id")
		opp, err := s.service.ResyncPlay(oppID, rest[0], actorID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	case len(rest) == 3 && rest[1] == "stages" && r.Method == http.MethodPatch:
		var patch StagePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		si, err := s.service.PatchStage(oppID, rest[0], rest[2], patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, si)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type addTeamMemberRequest struct {
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id,omitempty"`
}

// handleOpportunityTeam handles /opportunities/{id}/team/*
func (s *Server) handleOpportunityTeam(w http.ResponseWriter, r *http.Request, oppID string, rest []string) {
	switch {
	case (len(rest) == 0 || rest[0] == "") && r.Method == http.MethodPost:
		var req addTeamMemberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		opp, err := s.service.AddTeamMember(oppID, req.UserID, req.ActorID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		actorID := r.URL.Query().Get("actor_id")
		opp, err := s.service.RemoveTeamMember(oppID, rest[0], actorID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request, oppID string) {
	entries, err := s.service.GetActivity(oppID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Stage Note Handlers ---

type createNoteRequest struct {
	StageInstanceID string `json:"stage_instance_id"`
	Content         string `json:"content"`
	IsPrivate       bool   `json:"is_private"`
	AuthorID        string `json:"author_id,omitempty"`
}

// handleNotes handles POST /notes
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	note, err := s.service.CreateStageNote(req.StageInstanceID, req.Content, req.IsPrivate, req.AuthorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

type updateNoteRequest struct {
	Content   string `json:"content"`
	IsPrivate bool   `json:"is_private"`
}

// handleNoteByID handles GET /notes/{stageInstanceID} (listing) and
// PUT/DELETE /notes/{id} (single note).
func (s *Server) handleNoteByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/notes/")
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		notes, err := s.service.ListStageNotes(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if notes == nil {
			notes = []models.StageNote{}
		}
		writeJSON(w, http.StatusOK, notes)
	case http.MethodPut:
		var req updateNoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		note, err := s.service.UpdateStageNote(id, req.Content, req.IsPrivate)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case http.MethodDelete:
		if err := s.service.DeleteStageNote(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"deleted"}`))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

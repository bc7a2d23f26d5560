package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miethe/boxbrain/internal/models"
)

func newTestServer(t *testing.T) (*Server, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	return NewServer(svc, "127.0.0.1:0"), svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestPlayEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/plays", models.PlayTemplate{
		Title:      "Cloud Migration Accelerator",
		Offering:   "Cloud Migration",
		StageScope: []string{"Discovery"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.PlayTemplate
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Expected a minted play id")
	}

	w = doJSON(t, h, http.MethodGet, "/plays/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/plays/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown play, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/plays", models.PlayTemplate{Offering: "No Title"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid play, got %d", w.Code)
	}
}

func TestMatchEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	seedTemplate(t, svc)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/match", models.OpportunityQuery{
		Sector:       "Retail",
		Offering:     "Cloud Migration",
		Stage:        "Discovery",
		Technologies: []string{"Azure", "Terraform"},
		Geo:          "Americas",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var ranked []struct {
		Score       int  `json:"score"`
		Recommended bool `json:"recommended"`
	}
	if err := json.NewDecoder(w.Body).Decode(&ranked); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Score != 90 || !ranked[0].Recommended {
		t.Errorf("Unexpected ranking: %+v", ranked)
	}
}

func TestOpportunityEndpoints(t *testing.T) {
	srv, svc := newTestServer(t)
	tmpl := seedTemplate(t, svc)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/opportunities", CreateOpportunityInput{
		Name:     "Acme Replatform",
		Offering: "Cloud Migration",
		Stage:    "Discovery",
		Plays:    []string{tmpl.ID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var opp models.Opportunity
	if err := json.NewDecoder(w.Body).Decode(&opp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(opp.OpportunityPlays) != 1 {
		t.Fatalf("Expected 1 attached play, got %d", len(opp.OpportunityPlays))
	}

	// Duplicate attach conflicts.
	w = doJSON(t, h, http.MethodPost, "/opportunities/"+opp.ID+"/plays", AttachPlayInput{PlayID: tmpl.ID})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate attach, got %d", w.Code)
	}

	// Patch a stage through the nested route.
	w = doJSON(t, h, http.MethodPatch,
		"/opportunities/"+opp.ID+"/plays/"+tmpl.ID+"/stages/Discovery",
		map[string]any{"status": "in_progress", "base_version": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var si models.OpportunityStageInstance
	if err := json.NewDecoder(w.Body).Decode(&si); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if si.Status != models.StageInProgress || si.Version != 2 {
		t.Errorf("Patch not applied: %+v", si)
	}

	// Stale base version conflicts.
	w = doJSON(t, h, http.MethodPatch,
		"/opportunities/"+opp.ID+"/plays/"+tmpl.ID+"/stages/Discovery",
		map[string]any{"status": "completed", "base_version": 1})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for stale version, got %d", w.Code)
	}

	// Team add and remove.
	w = doJSON(t, h, http.MethodPost, "/opportunities/"+opp.ID+"/team", addTeamMemberRequest{UserID: "u-bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodDelete, "/opportunities/"+opp.ID+"/team/u-bob", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Activity trail.
	w = doJSON(t, h, http.MethodGet, "/opportunities/"+opp.ID+"/activity", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Delete, then 404.
	w = doJSON(t, h, http.MethodDelete, "/opportunities/"+opp.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/opportunities/"+opp.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestNoteEndpoints(t *testing.T) {
	srv, svc := newTestServer(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)
	siID := opp.OpportunityPlays[0].StageInstances[0].ID
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/notes", createNoteRequest{
		StageInstanceID: siID,
		Content:         "Champion identified",
		AuthorID:        "u-alice",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var note models.StageNote
	if err := json.NewDecoder(w.Body).Decode(&note); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	w = doJSON(t, h, http.MethodGet, "/notes/"+siID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var notes []models.StageNote
	if err := json.NewDecoder(w.Body).Decode(&notes); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("Expected 1 note, got %d", len(notes))
	}

	w = doJSON(t, h, http.MethodPut, "/notes/"+note.ID, updateNoteRequest{Content: "Champion confirmed", IsPrivate: true})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodDelete, "/notes/"+note.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodDelete, "/notes/"+note.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for deleted note, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/notes", createNoteRequest{StageInstanceID: "missing", Content: "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown instance, got %d", w.Code)
	}
}

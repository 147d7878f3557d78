package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oncallops/answergate/internal/domain"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if req.Model != "llama3" {
			t.Errorf("unexpected model %s", req.Model)
		}

		json.NewEncoder(w).Encode(generateResponse{
			Model:     "llama3",
			Response:  "Check pg_stat_activity for idle transactions.",
			Done:      true,
			EvalCount: 12,
		})
	}))
	defer srv.Close()

	p := New(srv.URL, "llama3")
	got, err := p.Generate(context.Background(), "how do I debug connection pool exhaustion?")
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %s", got.Provider)
	}
	if got.Text == "" {
		t.Error("expected answer text")
	}
	if got.TokenEstimate == nil || *got.TokenEstimate != 12 {
		t.Errorf("expected token estimate 12, got %v", got.TokenEstimate)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL, "llama3")
	_, err := p.Generate(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("expected backend failure sentinel, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL, "llama3").HealthCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
}

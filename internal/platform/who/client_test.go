package who

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/platform/apperror"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestClient_DisabledWithoutCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://id.who.int/icd"}, testLogger())
	if c.Enabled() {
		t.Fatal("client without credentials should be disabled")
	}

	_, err := c.GetEntity(context.Background(), "1435254666")
	var ue *apperror.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func newTestServers(t *testing.T, entityStatus int, entityBody interface{}) (*httptest.Server, *httptest.Server) {
	t.Helper()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"expires_in":   3600,
		})
	}))
	entitySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(entityStatus)
		if entityBody != nil {
			json.NewEncoder(w).Encode(entityBody)
		}
	}))
	t.Cleanup(tokenSrv.Close)
	t.Cleanup(entitySrv.Close)
	return tokenSrv, entitySrv
}

func TestClient_GetEntity(t *testing.T) {
	tokenSrv, entitySrv := newTestServers(t, http.StatusOK, map[string]interface{}{
		"code":       "TM26.0",
		"title":      map[string]string{"@value": "Vata imbalance disorder"},
		"definition": map[string]string{"@value": "A pattern disorder of the vata dosha."},
	})

	c := NewClient(Config{
		BaseURL:      entitySrv.URL,
		TokenURL:     tokenSrv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}, testLogger())

	entity, err := c.GetEntity(context.Background(), "1435254666")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entity.ICDCode != "TM26.0" {
		t.Errorf("expected code TM26.0, got %s", entity.ICDCode)
	}
	if entity.Title != "Vata imbalance disorder" {
		t.Errorf("unexpected title: %s", entity.Title)
	}
}

func TestClient_GetEntity_NotFound(t *testing.T) {
	tokenSrv, entitySrv := newTestServers(t, http.StatusNotFound, nil)

	c := NewClient(Config{
		BaseURL:      entitySrv.URL,
		TokenURL:     tokenSrv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}, testLogger())

	_, err := c.GetEntity(context.Background(), "999")
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

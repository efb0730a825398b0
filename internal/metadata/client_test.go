package metadata_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"curator/internal/metadata"
)

func TestSearchTriesSourcesInOrder(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["moviecode"] != "SONE-760" {
			t.Errorf("unexpected moviecode: %q", body["moviecode"])
		}
		switch r.URL.Path {
		case "/missav/search":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
		case "/javguru/search":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]any{
					"movie_code": "SONE-760",
					"title":      "SONE-760 A Summer Story",
					"actress":    []string{"aoi sora", "second name"},
				},
			})
		}
	}))
	defer server.Close()

	client := metadata.NewClient(server.URL, []string{"missav", "javguru"})
	movie, err := client.Search(context.Background(), "SONE-760")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if movie == nil || movie.Title != "SONE-760 A Summer Story" {
		t.Fatalf("unexpected result: %#v", movie)
	}
	if len(movie.Actress) != 2 || movie.Actress[0] != "aoi sora" {
		t.Fatalf("actress list not parsed: %#v", movie.Actress)
	}
	if len(paths) != 2 || paths[0] != "/missav/search" || paths[1] != "/javguru/search" {
		t.Fatalf("unexpected request order: %v", paths)
	}
	if len(movie.Raw) == 0 {
		t.Fatal("raw payload not retained")
	}
}

func TestSearchReturnsNilWhenAllSourcesMiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer server.Close()

	client := metadata.NewClient(server.URL, nil)
	movie, err := client.Search(context.Background(), "NONE-000")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if movie != nil {
		t.Fatalf("expected nil on miss, got %#v", movie)
	}
}

func TestSearchSendsBearerToken(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"title": "T"},
		})
	}))
	defer server.Close()

	client := metadata.NewClient(server.URL, []string{"missav"},
		metadata.WithTokenSource(metadata.StaticToken("secret")))
	if _, err := client.Search(context.Background(), "AA-1"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected Authorization header: %q", auth)
	}
}

func TestSearchSkipsFailingSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missav/search" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"title": "Recovered"},
		})
	}))
	defer server.Close()

	client := metadata.NewClient(server.URL, []string{"missav", "javguru"})
	movie, err := client.Search(context.Background(), "BB-2")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if movie == nil || movie.Title != "Recovered" {
		t.Fatalf("expected fallback source result, got %#v", movie)
	}
}

func TestStringListAcceptsBothShapes(t *testing.T) {
	var fromArray metadata.Movie
	if err := json.Unmarshal([]byte(`{"genre":["Drama","Romance"]}`), &fromArray); err != nil {
		t.Fatalf("unmarshal array genre: %v", err)
	}
	if len(fromArray.Genre) != 2 || fromArray.Genre[1] != "Romance" {
		t.Fatalf("array genre not parsed: %#v", fromArray.Genre)
	}

	var fromString metadata.Movie
	if err := json.Unmarshal([]byte(`{"genre":"Drama, Romance , "}`), &fromString); err != nil {
		t.Fatalf("unmarshal string genre: %v", err)
	}
	if len(fromString.Genre) != 2 || fromString.Genre[0] != "Drama" {
		t.Fatalf("string genre not parsed: %#v", fromString.Genre)
	}
}

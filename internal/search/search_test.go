package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	return append([]Result(nil), m.results...), m.err
}

func TestManager_Search(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary", Snippet: "<b>Saber</b> &amp; Archer"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	tests := []struct {
		provider string
		want     string
		wantErr  string
	}{
		{provider: "", want: "Primary"},
		{provider: "secondary", want: "Secondary"},
		{provider: "missing", wantErr: "available: primary, secondary"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			results, err := mgr.Search(context.Background(), tt.provider, "saber", Options{})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != 1 || results[0].Title != tt.want {
				t.Fatalf("results = %+v", results)
			}
		})
	}

	results, _ := mgr.Search(context.Background(), "", "saber", Options{})
	if results[0].Snippet != "Saber & Archer" {
		t.Errorf("snippet = %q, want markup stripped", results[0].Snippet)
	}
}

func TestManager_Unconfigured(t *testing.T) {
	mgr := NewManager("")
	if mgr.Configured() {
		t.Error("empty manager reports configured")
	}
	_, err := mgr.Search(context.Background(), "", "saber", Options{})
	if err == nil || !strings.Contains(err.Error(), "no web search provider") {
		t.Errorf("err = %v", err)
	}
}

func TestManager_ProviderError(t *testing.T) {
	boom := errors.New("rate limited")
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "p", err: boom})
	if _, err := mgr.Search(context.Background(), "", "q", Options{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestFormatResults(t *testing.T) {
	out := FormatResults([]Result{
		{Title: "Artoria Pendragon", URL: "https://typemoon.fandom.com/wiki/Artoria_Pendragon", Snippet: "King of Knights"},
		{Title: "Fate/stay night", URL: "https://example.com/fsn"},
	})
	want := "1. Artoria Pendragon\n   https://typemoon.fandom.com/wiki/Artoria_Pendragon\n   King of Knights\n\n2. Fate/stay night\n   https://example.com/fsn"
	if out != want {
		t.Errorf("FormatResults =\n%s\nwant\n%s", out, want)
	}
	if got := FormatResults(nil); got != "No results found." {
		t.Errorf("empty = %q", got)
	}
}

func TestSearXNG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "ja" {
			t.Errorf("language = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{
			{"title": "One", "url": "https://a.example", "content": "first"},
			{"title": "Two", "url": "https://b.example"},
			{"title": "Three", "url": "https://c.example"},
		}})
	}))
	defer srv.Close()

	p := NewSearXNG(srv.URL+"/", nil)
	results, err := p.Search(context.Background(), "Gilgamesh", Options{Count: 2, Language: "ja"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Snippet != "first" || results[1].Title != "Two" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearXNG_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL, nil).Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Errorf("err = %v", err)
	}
}

func TestBrave(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "secret" {
			t.Errorf("token = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "5" {
			t.Errorf("count = %q, want default 5", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"web": map[string]any{"results": []map[string]string{
			{"title": "Emiya", "url": "https://e.example", "description": "Counter Guardian"},
		}}})
	}))
	defer srv.Close()

	p := NewBrave("secret", srv.URL, nil)
	results, err := p.Search(context.Background(), "Emiya", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Snippet != "Counter Guardian" {
		t.Errorf("results = %+v", results)
	}
}

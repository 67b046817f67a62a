package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *HTTPClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewHTTPClient("test-token", WithBaseURL(srv.URL), WithHTTPDoer(srv.Client()))
	return srv, client
}

func TestHTTPClientCreatePage(t *testing.T) {
	var gotAuth, gotVersion string
	var gotBody map[string]any

	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Notion-Version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "page-1",
			"archived": false,
			"created_time": "2026-08-01T00:00:00Z",
			"properties": {"Name": {"type": "title", "title": [{"text": {"content": "hello"}}]}}
		}`))
	})

	page, err := client.CreatePage(context.Background(), "db-1", PropertyMap{"Name": Title("hello")})
	if err != nil {
		t.Fatalf("CreatePage failed: %v", err)
	}
	if page.ID != "page-1" {
		t.Errorf("page id = %q", page.ID)
	}
	if page.Properties.PlainText("Name") != "hello" {
		t.Errorf("title = %q", page.Properties.PlainText("Name"))
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotVersion == "" {
		t.Error("API version header missing")
	}
	parent, _ := gotBody["parent"].(map[string]any)
	if parent["database_id"] != "db-1" {
		t.Errorf("parent = %v", gotBody["parent"])
	}
}

func TestHTTPClientErrorMapping(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code": "rate_limited", "message": "slow down"}`))
	})

	_, err := client.CreatePage(context.Background(), "db-1", PropertyMap{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want rate-limited sentinel", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "rate_limited" {
		t.Errorf("structured error not preserved: %v", err)
	}
}

func TestHTTPClientArchiveBody(t *testing.T) {
	var gotBody map[string]any
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	})

	if err := client.ArchivePage(context.Background(), "page-1"); err != nil {
		t.Fatalf("ArchivePage failed: %v", err)
	}
	if gotBody["archived"] != true {
		t.Errorf("body = %v, want archived:true", gotBody)
	}
}

func TestHTTPClientQueryPagination(t *testing.T) {
	calls := 0
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body["start_cursor"] == nil {
			w.Write([]byte(`{"results": [{"id": "p1"}], "next_cursor": "c2", "has_more": true}`))
			return
		}
		if body["start_cursor"] != "c2" {
			t.Errorf("cursor = %v, want c2", body["start_cursor"])
		}
		w.Write([]byte(`{"results": [{"id": "p2"}], "next_cursor": "", "has_more": false}`))
	})

	pages, err := QueryAll(context.Background(), client, "db-1", nil)
	if err != nil {
		t.Fatalf("QueryAll failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("requests = %d, want 2", calls)
	}
	if len(pages) != 2 || pages[0].ID != "p1" || pages[1].ID != "p2" {
		t.Errorf("pages = %v", pages)
	}
}

func TestHTTPClientQueryFilter(t *testing.T) {
	var gotBody map[string]any
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"results": [], "has_more": false}`))
	})

	filter := &Filter{Property: "Task ID", RichTextEquals: "master:3"}
	if _, err := client.QueryPages(context.Background(), "db-1", filter, ""); err != nil {
		t.Fatalf("QueryPages failed: %v", err)
	}
	f, _ := gotBody["filter"].(map[string]any)
	if f["property"] != "Task ID" {
		t.Errorf("filter = %v", gotBody["filter"])
	}
}

package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// graphStub serves the token endpoint, the three Graph lookups and the file
// downloads from one httptest server.
type graphStub struct {
	srv        *httptest.Server
	files      map[string]string // name -> body; listed in names order
	names      []string
	noDrives   bool
	noSiteID   bool
	failFile   string
	tokenCalls atomic.Int32
}

func newGraphStub(t *testing.T) *graphStub {
	t.Helper()
	g := &graphStub{files: map[string]string{}}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *graphStub) add(name, body string) {
	g.names = append(g.names, name)
	g.files[name] = body
}

func (g *graphStub) serve(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	switch {
	case p == "/tenant-1/oauth2/v2.0/token":
		g.tokenCalls.Add(1)
		r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_secret") != "shh" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
		return
	case strings.HasPrefix(p, "/download/"):
		name := strings.TrimPrefix(p, "/download/")
		if name == g.failFile {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, g.files[name])
		return
	}

	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch p {
	case "/v1.0/sites/contoso.sharepoint.com:/sites/Finance":
		if g.noSiteID {
			fmt.Fprint(w, `{"name":"Finance"}`)
			return
		}
		fmt.Fprint(w, `{"id":"site-1"}`)
	case "/v1.0/sites/site-1/drives":
		if g.noDrives {
			fmt.Fprint(w, `{"value":[]}`)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":"drive-1"},{"id":"drive-2"}]}`)
	case "/v1.0/drives/drive-1/root:/Shared Documents/AP:/children":
		items := []map[string]any{{"name": "Archive", "folder": map[string]any{"childCount": 3}}}
		for _, n := range g.names {
			items = append(items, map[string]any{
				"name":                         n,
				"@microsoft.graph.downloadUrl": g.srv.URL + "/download/" + n + "?token=secret",
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"value": items})
	default:
		http.NotFound(w, r)
	}
}

func (g *graphStub) fetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Config{
		TenantID:     "tenant-1",
		ClientID:     "app",
		ClientSecret: "shh",
		Host:         "contoso.sharepoint.com",
		SiteName:     "Finance",
		DocLibPath:   "Shared Documents/AP",
		GraphURL:     g.srv.URL + "/v1.0",
		AuthorityURL: g.srv.URL,
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

func TestFetch_ListingOrderAndExtraction(t *testing.T) {
	g := newGraphStub(t)
	g.add("policy.txt", "Invoices are paid net 30.")
	g.add("close.html", "<html><head><title>x</title></head><body><h1>Close</h1><p>Reconcile AP.</p><script>x()</script></body></html>")
	g.add("logo.png", "\x89PNG")
	for i := 0; i < 6; i++ {
		g.add(fmt.Sprintf("note-%d.txt", i), fmt.Sprintf("note %d", i))
	}

	docs, err := g.fetcher(t).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	var names []string
	for _, d := range docs {
		names = append(names, d.Name)
	}
	want := []string{"policy.txt", "close.html", "note-0.txt", "note-1.txt", "note-2.txt", "note-3.txt", "note-4.txt", "note-5.txt"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("document names mismatch (-want +got):\n%s", diff)
	}
	if docs[0].Text != "Invoices are paid net 30." {
		t.Errorf("txt text = %q", docs[0].Text)
	}
	if docs[1].Text != "Close \n\nReconcile AP." {
		t.Errorf("html text = %q", docs[1].Text)
	}
	if g.tokenCalls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want 1", g.tokenCalls.Load())
	}
}

func TestFetch_EmptyFolder(t *testing.T) {
	g := newGraphStub(t)
	docs, err := g.fetcher(t).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d docs, want 0", len(docs))
	}
}

func TestFetch_NoDrives(t *testing.T) {
	g := newGraphStub(t)
	g.noDrives = true
	_, err := g.fetcher(t).Fetch(context.Background())
	if !errors.Is(err, ErrUnexpectedShape) {
		t.Fatalf("err = %v, want ErrUnexpectedShape", err)
	}
}

func TestFetch_MissingSiteID(t *testing.T) {
	g := newGraphStub(t)
	g.noSiteID = true
	_, err := g.fetcher(t).Fetch(context.Background())
	if !errors.Is(err, ErrUnexpectedShape) {
		t.Fatalf("err = %v, want ErrUnexpectedShape", err)
	}
}

func TestFetch_DownloadFailureFailsWholeFetch(t *testing.T) {
	g := newGraphStub(t)
	g.add("a.txt", "a")
	g.add("b.txt", "b")
	g.failFile = "b.txt"

	docs, err := g.fetcher(t).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if docs != nil {
		t.Errorf("got %d docs alongside error", len(docs))
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks download token: %v", err)
	}
}

func TestFetch_BadCredentials(t *testing.T) {
	g := newGraphStub(t)
	f := g.fetcher(t)
	f.creds.ClientSecret = "wrong"

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestNewFetcher_Validation(t *testing.T) {
	if _, err := NewFetcher(Config{TenantID: "t", ClientID: "c", ClientSecret: "s", Host: "h"}); err == nil {
		t.Error("expected error for missing site name")
	}
}

package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultGraphURL     = "https://graph.microsoft.com/v1.0"
	DefaultAuthorityURL = "https://login.microsoftonline.com"
	graphScope          = "https://graph.microsoft.com/.default"

	maxConcurrentDownloads = 4
	maxDocumentBytes       = 50 << 20
)

// ErrUnexpectedShape is returned when a Graph response lacks a field the
// fetch depends on. The whole fetch fails.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// Document is the extracted text of one file in the document library.
type Document struct {
	Name string
	Text string
}

// Config identifies the tenant, app registration and folder to read.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Host         string // e.g. contoso.sharepoint.com
	SiteName     string
	DocLibPath   string // folder path inside the default drive

	GraphURL     string // defaults to DefaultGraphURL
	AuthorityURL string // defaults to DefaultAuthorityURL
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	for _, f := range []struct{ name, val string }{
		{"sharepoint.tenant_id", c.TenantID},
		{"sharepoint.client_id", c.ClientID},
		{"sharepoint.client_secret", c.ClientSecret},
		{"sharepoint.host", c.Host},
		{"sharepoint.site_name", c.SiteName},
	} {
		if f.val == "" {
			return fmt.Errorf("%s is not configured", f.name)
		}
	}
	return nil
}

// Fetcher lists and downloads the files of one SharePoint folder through
// Microsoft Graph.
type Fetcher struct {
	cfg      Config
	creds    *clientcredentials.Config
	download *http.Client
}

// NewFetcher creates a Fetcher for cfg.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	if cfg.AuthorityURL == "" {
		cfg.AuthorityURL = DefaultAuthorityURL
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	cfg.AuthorityURL = strings.TrimRight(cfg.AuthorityURL, "/")

	return &Fetcher{
		cfg: cfg,
		creds: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", cfg.AuthorityURL, url.PathEscape(cfg.TenantID)),
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		download: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// driveItem is the subset of a Graph driveItem the fetch reads.
type driveItem struct {
	Name        string    `json:"name"`
	DownloadURL string    `json:"@microsoft.graph.downloadUrl"`
	Folder      *struct{} `json:"folder"`
}

// Fetch exchanges the client credentials for a token, resolves the site and
// its first drive, lists the configured folder and downloads every file.
// Documents are returned in listing order. Folders are skipped.
func (f *Fetcher) Fetch(ctx context.Context) ([]Document, error) {
	client := f.creds.Client(ctx)

	siteID, err := f.siteID(ctx, client)
	if err != nil {
		return nil, err
	}
	driveID, err := f.driveID(ctx, client, siteID)
	if err != nil {
		return nil, err
	}
	items, err := f.listFolder(ctx, client, driveID)
	if err != nil {
		return nil, err
	}

	files := make([]driveItem, 0, len(items))
	for _, it := range items {
		if it.Folder != nil {
			continue
		}
		if it.DownloadURL == "" {
			return nil, fmt.Errorf("listing item %q has no download url: %w", it.Name, ErrUnexpectedShape)
		}
		if !Supported(it.Name) {
			slog.Debug("skipping unsupported file", "name", it.Name)
			continue
		}
		files = append(files, it)
	}

	docs := make([]Document, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)
	for i, it := range files {
		g.Go(func() error {
			body, err := f.get(gCtx, f.download, it.DownloadURL)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", it.Name, err)
			}
			text, err := ExtractText(it.Name, body)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", it.Name, err)
			}
			docs[i] = Document{Name: it.Name, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("fetched documents", "site", f.cfg.SiteName, "files", len(docs), "listed", len(items))
	return docs, nil
}

func (f *Fetcher) siteID(ctx context.Context, client *http.Client) (string, error) {
	u := fmt.Sprintf("%s/sites/%s:/sites/%s", f.cfg.GraphURL, url.PathEscape(f.cfg.Host), url.PathEscape(f.cfg.SiteName))
	var site struct {
		ID string `json:"id"`
	}
	if err := f.getJSON(ctx, client, u, &site); err != nil {
		return "", fmt.Errorf("resolving site: %w", err)
	}
	if site.ID == "" {
		return "", fmt.Errorf("resolving site: missing id: %w", ErrUnexpectedShape)
	}
	return site.ID, nil
}

func (f *Fetcher) driveID(ctx context.Context, client *http.Client, siteID string) (string, error) {
	u := fmt.Sprintf("%s/sites/%s/drives", f.cfg.GraphURL, url.PathEscape(siteID))
	var drives struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := f.getJSON(ctx, client, u, &drives); err != nil {
		return "", fmt.Errorf("listing drives: %w", err)
	}
	if len(drives.Value) == 0 {
		return "", fmt.Errorf("listing drives: no drives found: %w", ErrUnexpectedShape)
	}
	if drives.Value[0].ID == "" {
		return "", fmt.Errorf("listing drives: missing drive id: %w", ErrUnexpectedShape)
	}
	return drives.Value[0].ID, nil
}

// listFolder returns the children of the configured folder, following
// @odata.nextLink pages.
func (f *Fetcher) listFolder(ctx context.Context, client *http.Client, driveID string) ([]driveItem, error) {
	u := fmt.Sprintf("%s/drives/%s/root/children", f.cfg.GraphURL, url.PathEscape(driveID))
	if p := strings.Trim(f.cfg.DocLibPath, "/"); p != "" {
		u = fmt.Sprintf("%s/drives/%s/root:/%s:/children", f.cfg.GraphURL, url.PathEscape(driveID), escapePath(p))
	}

	var items []driveItem
	for u != "" {
		var page struct {
			Value    *[]driveItem `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := f.getJSON(ctx, client, u, &page); err != nil {
			return nil, fmt.Errorf("listing folder: %w", err)
		}
		if page.Value == nil {
			return nil, fmt.Errorf("listing folder: missing value: %w", ErrUnexpectedShape)
		}
		items = append(items, *page.Value...)
		u = page.NextLink
	}
	return items, nil
}

func (f *Fetcher) getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	body, err := f.get(ctx, client, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %v: %w", err, ErrUnexpectedShape)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("GET %s: status %d: %s", redact(u), resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", redact(u), maxDocumentBytes)
	}
	return body, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// redact drops the query string, which carries the temporary download token.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

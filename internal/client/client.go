// Package client is the request layer for the transcription backend. Every
// path placed in a request body passes the path guard first.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/vrsandeep/vidscribe/internal/models"
	"github.com/vrsandeep/vidscribe/internal/pathguard"
)

var (
	ErrEmptyID             = errors.New("item id is empty")
	ErrIncompatibleBackend = errors.New("incompatible backend version")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client talks to one backend.
type Client struct {
	base  *url.URL
	http  *http.Client
	guard *pathguard.Guard
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithGuard replaces the default path guard.
func WithGuard(g *pathguard.Guard) Option { return func(c *Client) { c.guard = g } }

// New returns a client for the backend at baseURL. A bare host:port is
// treated as http.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("backend url is empty")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
		guard: pathguard.New(pathguard.Options{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Version returns the backend's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// CheckCompatible fetches the backend version and verifies it satisfies
// the constraint (for example ">= 1.2.0"). An empty constraint accepts any
// version.
func (c *Client) CheckCompatible(ctx context.Context, constraint string) (string, error) {
	v, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(constraint) == "" {
		return v, nil
	}
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return v, fmt.Errorf("parse version constraint %q: %w", constraint, err)
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return v, fmt.Errorf("%w: backend reports %q", ErrIncompatibleBackend, v)
	}
	if !cons.Check(sv) {
		return v, fmt.Errorf("%w: backend %s does not satisfy %s", ErrIncompatibleBackend, sv, constraint)
	}
	return v, nil
}

// Queue returns the full queue snapshot.
func (c *Client) Queue(ctx context.Context) ([]models.QueueItem, error) {
	var items []models.QueueItem
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ValidateFiles normalizes input-file paths, stopping at the first
// rejection.
func (c *Client) ValidateFiles(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n, err := c.guard.Validate(p, pathguard.Context{Kind: pathguard.InputFile})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// AddFiles enqueues video files. Nothing is sent if any path is rejected.
func (c *Client) AddFiles(ctx context.Context, paths []string) ([]models.QueueItem, error) {
	clean, err := c.ValidateFiles(paths)
	if err != nil {
		return nil, err
	}
	return c.AddValidatedFiles(ctx, clean)
}

// AddValidatedFiles enqueues paths already returned by ValidateFiles.
func (c *Client) AddValidatedFiles(ctx context.Context, paths []string) ([]models.QueueItem, error) {
	var items []models.QueueItem
	body := map[string]any{"paths": paths}
	if err := c.do(ctx, http.MethodPost, "/api/queue/files", body, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AddDirectory enqueues the videos found in dir.
func (c *Client) AddDirectory(ctx context.Context, dir string, recursive bool) ([]models.QueueItem, error) {
	clean, err := c.guard.Validate(dir, pathguard.Context{Kind: pathguard.Directory})
	if err != nil {
		return nil, err
	}
	var items []models.QueueItem
	body := map[string]any{"path": clean, "recursive": recursive}
	if err := c.do(ctx, http.MethodPost, "/api/queue/directory", body, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RemoveItem deletes one queue entry.
func (c *Client) RemoveItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	return c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, nil)
}

// ClearQueue removes every item with status, or every item when status is
// empty, and returns how many were removed.
func (c *Client) ClearQueue(ctx context.Context, status models.ItemStatus) (int, error) {
	if status != "" && !status.Valid() {
		return 0, fmt.Errorf("unknown status %q", status)
	}
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/queue/clear", map[string]any{"status": status}, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Export copies a completed item's transcript to dest.
func (c *Client) Export(ctx context.Context, id, dest string) (models.QueueItem, error) {
	if strings.TrimSpace(id) == "" {
		return models.QueueItem{}, ErrEmptyID
	}
	clean, err := c.guard.Validate(dest, pathguard.Context{Kind: pathguard.OutputFile})
	if err != nil {
		return models.QueueItem{}, err
	}
	var it models.QueueItem
	path := "/api/queue/" + url.PathEscape(id) + "/export"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"path": clean}, &it); err != nil {
		return models.QueueItem{}, err
	}
	return it, nil
}

// Status returns the processing-status snapshot.
func (c *Client) Status(ctx context.Context) (models.ProcessingStatus, error) {
	var st models.ProcessingStatus
	err := c.do(ctx, http.MethodGet, "/api/processing/status", nil, &st)
	return st, err
}

// StartProcessing starts or resumes processing, writing transcripts into
// outputDir. An empty outputDir keeps the backend's current one.
func (c *Client) StartProcessing(ctx context.Context, outputDir string) (models.ProcessingStatus, error) {
	body := map[string]any{}
	if outputDir != "" {
		clean, err := c.guard.Validate(outputDir, pathguard.Context{Kind: pathguard.Directory})
		if err != nil {
			return models.ProcessingStatus{}, err
		}
		body["output_dir"] = clean
	}
	var st models.ProcessingStatus
	err := c.do(ctx, http.MethodPost, "/api/processing/start", body, &st)
	return st, err
}

func (c *Client) PauseProcessing(ctx context.Context) (models.ProcessingStatus, error) {
	var st models.ProcessingStatus
	err := c.do(ctx, http.MethodPost, "/api/processing/pause", nil, &st)
	return st, err
}

func (c *Client) StopProcessing(ctx context.Context) (models.ProcessingStatus, error) {
	var st models.ProcessingStatus
	err := c.do(ctx, http.MethodPost, "/api/processing/stop", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	endpoint := c.base.JoinPath(path)
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

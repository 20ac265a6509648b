// Package onedrive talks to a user's OneDrive through Microsoft Graph.
package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const (
	graphBaseURL   = "https://graph.microsoft.com/v1.0"
	graphScope     = "https://graph.microsoft.com/.default"
	defaultTimeout = 30 * time.Second
	// simpleUploadLimit is the Graph cap for PUT .../content uploads.
	// Anything larger goes through an upload session.
	simpleUploadLimit = 4 << 20
	// uploadChunkSize must be a multiple of 320 KiB.
	uploadChunkSize = 10 * 320 << 10
)

var tracer = otel.Tracer("portal.internal.onedrive")

var (
	ErrInvalidPath   = errors.New("onedrive: path is empty or root")
	ErrNotConfigured = errors.New("onedrive: graph credentials are not configured")
)

// Config carries the app registration and target drive owner.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	UserID       string
	Root         string
}

// DeleteResult describes the outcome of DeleteFolder.
type DeleteResult struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
	// AlreadyAbsent is set when Graph answered 404.
	AlreadyAbsent bool `json:"alreadyAbsent"`
}

// Item is the subset of a driveItem the portal uses.
type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
	Size   int64  `json:"size"`
}

// APIError is a non-success Graph response.
type APIError struct {
	Status int
	Code   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("onedrive: graph returned %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("onedrive: graph returned %d", e.Status)
}

// Client performs drive operations as an application.
type Client struct {
	baseURL    string
	userID     string
	root       string
	httpClient *http.Client
	// chunkClient sends upload session chunks. The session URL is
	// pre-authenticated and Graph rejects a bearer token on it.
	chunkClient *http.Client
	chunkSize   int
	logger      *logging.Logger
}

// NewClient builds a Graph client; tokens come from the client-credentials
// flow and are cached and refreshed by oauth2.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.UserID == "" {
		return nil, ErrNotConfigured
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID)),
		Scopes:       []string{graphScope},
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = defaultTimeout
	c := newClient(graphBaseURL, httpClient, cfg.UserID, cfg.Root, logger)
	c.chunkClient = &http.Client{Timeout: defaultTimeout}
	return c, nil
}

func newClient(baseURL string, httpClient *http.Client, userID, root string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		userID:      userID,
		root:        strings.Trim(root, "/"),
		httpClient:  httpClient,
		chunkClient: httpClient,
		chunkSize:   uploadChunkSize,
		logger:      logger,
	}
}

// FolderFor returns the drive path holding a radicado's soportes.
func (c *Client) FolderFor(numero string) string {
	if c.root == "" {
		return numero
	}
	return c.root + "/" + numero
}

// EnsureFolder creates every missing segment of path.
func (c *Client) EnsureFolder(ctx context.Context, path string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "onedrive.ensure_folder")
	defer span.End()
	span.SetAttributes(attribute.String("portal.onedrive.path", path))

	parent := ""
	for _, seg := range segments {
		var endpoint string
		if parent == "" {
			endpoint = c.driveURL("/root/children")
		} else {
			endpoint = c.driveURL("/root:/" + escapeSegments(parent) + ":/children")
		}
		body := map[string]any{
			"name":                              seg,
			"folder":                            map[string]any{},
			"@microsoft.graph.conflictBehavior": "fail",
		}
		status, respBody, err := c.do(ctx, http.MethodPost, endpoint, "application/json", jsonBody(body))
		if err != nil {
			span.RecordError(err)
			return err
		}
		// 409 means the folder already exists.
		if status != http.StatusCreated && status != http.StatusOK && status != http.StatusConflict {
			apiErr := newAPIError(status, respBody)
			span.RecordError(apiErr)
			return apiErr
		}
		if parent == "" {
			parent = seg
		} else {
			parent = parent + "/" + seg
		}
	}
	return nil
}

// Upload writes content at path, replacing any existing file. Content over
// the simple upload limit is sent in chunks through an upload session.
func (c *Client) Upload(ctx context.Context, path string, content []byte, contentType string) (*Item, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx, span := tracer.Start(ctx, "onedrive.upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("portal.onedrive.path", path),
		attribute.Int("portal.onedrive.bytes", len(content)),
		attribute.Bool("portal.onedrive.session", len(content) > simpleUploadLimit),
	)

	clean := escapeSegments(strings.Join(segments, "/"))
	var item *Item
	if len(content) > simpleUploadLimit {
		item, err = c.uploadSession(ctx, clean, content)
	} else {
		item, err = c.uploadSimple(ctx, clean, content, contentType)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return item, nil
}

func (c *Client) uploadSimple(ctx context.Context, escaped string, content []byte, contentType string) (*Item, error) {
	status, body, err := c.do(ctx, http.MethodPut, c.driveURL("/root:/"+escaped+":/content"), contentType, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, newAPIError(status, body)
	}
	return decodeItem(body)
}

func (c *Client) uploadSession(ctx context.Context, escaped string, content []byte) (*Item, error) {
	req := map[string]any{
		"item": map[string]any{"@microsoft.graph.conflictBehavior": "replace"},
	}
	status, body, err := c.do(ctx, http.MethodPost, c.driveURL("/root:/"+escaped+":/createUploadSession"), "application/json", jsonBody(req))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, newAPIError(status, body)
	}
	var sess struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := json.Unmarshal(body, &sess); err != nil || sess.UploadURL == "" {
		return nil, fmt.Errorf("onedrive: upload session without url")
	}

	total := len(content)
	for start := 0; start < total; start += c.chunkSize {
		end := start + c.chunkSize
		if end > total {
			end = total
		}
		status, body, err := c.putChunk(ctx, sess.UploadURL, content[start:end], start, total)
		if err == nil && status != http.StatusAccepted && status != http.StatusOK && status != http.StatusCreated {
			err = newAPIError(status, body)
		}
		if err != nil {
			c.cancelSession(sess.UploadURL)
			return nil, err
		}
		if status == http.StatusOK || status == http.StatusCreated {
			return decodeItem(body)
		}
	}
	return nil, fmt.Errorf("onedrive: upload session ended without an item")
}

func (c *Client) putChunk(ctx context.Context, uploadURL string, chunk []byte, start, total int) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return 0, nil, fmt.Errorf("onedrive: build chunk request: %w", err)
	}
	req.ContentLength = int64(len(chunk))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+len(chunk)-1, total))
	resp, err := c.chunkClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("onedrive: chunk upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, body, nil
}

// cancelSession discards a half-written upload; failures are only logged.
func (c *Client) cancelSession(uploadURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uploadURL, nil)
	if err != nil {
		return
	}
	resp, err := c.chunkClient.Do(req)
	if err != nil {
		c.logger.Warn("onedrive upload session cancel failed", "error", err)
		return
	}
	_ = resp.Body.Close()
}

// DeleteFolder removes the folder at path. A missing folder is not an error.
func (c *Client) DeleteFolder(ctx context.Context, path string) (*DeleteResult, error) {
	return c.deleteItem(ctx, "onedrive.delete_folder", "folder", path)
}

// DeleteFile removes a single mirrored file. A missing file is not an error.
func (c *Client) DeleteFile(ctx context.Context, path string) (*DeleteResult, error) {
	return c.deleteItem(ctx, "onedrive.delete_file", "file", path)
}

func (c *Client) deleteItem(ctx context.Context, spanName, kind, path string) (*DeleteResult, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	clean := strings.Join(segments, "/")
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("portal.onedrive.path", clean))

	endpoint := c.driveURL("/root:/" + escapeSegments(clean))
	status, body, err := c.do(ctx, http.MethodDelete, endpoint, "", nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		c.logger.Info("onedrive item deleted", "kind", kind, "path", clean)
		return &DeleteResult{Path: clean, Deleted: true}, nil
	case http.StatusNotFound:
		c.logger.Info("onedrive item already absent", "kind", kind, "path", clean)
		return &DeleteResult{Path: clean, AlreadyAbsent: true}, nil
	default:
		apiErr := newAPIError(status, body)
		span.RecordError(apiErr)
		return nil, apiErr
	}
}

func (c *Client) driveURL(suffix string) string {
	return c.baseURL + "/users/" + url.PathEscape(c.userID) + "/drive" + suffix
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("onedrive: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("onedrive: %s request failed: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, respBody, nil
}

func splitPath(path string) ([]string, error) {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return nil, ErrInvalidPath
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return nil, ErrInvalidPath
	}
	return out, nil
}

func escapeSegments(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func decodeItem(body []byte) (*Item, error) {
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("onedrive: decode upload response: %w", err)
	}
	return &item, nil
}

func newAPIError(status int, body []byte) *APIError {
	var parsed struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)
	return &APIError{Status: status, Code: parsed.Error.Code, Body: string(body)}
}

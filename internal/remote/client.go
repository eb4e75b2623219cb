package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 15 * time.Second
	actionHeader          = "x-action"
	maxErrorBodyBytes     = 64 << 10
)

var (
	ErrMissingBaseURL = errors.New("remote: base url required")
	ErrInvalidBaseURL = errors.New("remote: base url must be absolute")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying later: network failures and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded)
}

// HasStatus reports whether err is an APIError with the given status.
func HasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// NotePayload is the body of note create and update calls. Nil fields are omitted;
// a nil FolderIDs leaves associations unchanged, an empty slice clears them.
type NotePayload struct {
	Title     *string
	Content   *string
	FolderIDs []int64
}

// FolderPayload follows the NotePayload rules.
type FolderPayload struct {
	Name    *string
	NoteIDs []int64
}

func (p NotePayload) MarshalJSON() ([]byte, error) {
	body := map[string]interface{}{}
	if p.Title != nil {
		body["title"] = *p.Title
	}
	if p.Content != nil {
		body["content"] = *p.Content
	}
	if p.FolderIDs != nil {
		body["folderIds"] = p.FolderIDs
	}
	return json.Marshal(body)
}

func (p FolderPayload) MarshalJSON() ([]byte, error) {
	body := map[string]interface{}{}
	if p.Name != nil {
		body["name"] = *p.Name
	}
	if p.NoteIDs != nil {
		body["noteIds"] = p.NoteIDs
	}
	return json.Marshal(body)
}

// Config describes how the client reaches the server.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the notes API, carrying the session cookie between calls.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a client. A cookie jar is attached when the HTTP client has none.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		clone := *httpClient
		clone.Jar = jar
		httpClient = &clone
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: parsed, httpClient: httpClient, logger: logger}, nil
}

// Ping checks server reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Login exchanges the PIN for a session cookie.
func (c *Client) Login(ctx context.Context, pin string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/pin", map[string]string{"pin": pin}, nil, nil)
}

// SetupPin configures the PIN and starts a session.
func (c *Client) SetupPin(ctx context.Context, pin string) error {
	headers := map[string]string{actionHeader: "setup"}
	return c.do(ctx, http.MethodPost, "/api/auth/pin", map[string]string{"pin": pin}, headers, nil)
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

func (c *Client) ListNotes(ctx context.Context) ([]notes.Note, error) {
	var result []notes.Note
	err := c.do(ctx, http.MethodGet, "/api/notes", nil, nil, &result)
	return result, err
}

func (c *Client) GetNote(ctx context.Context, id int64) (notes.Note, error) {
	var result notes.Note
	err := c.do(ctx, http.MethodGet, notePath(id), nil, nil, &result)
	return result, err
}

func (c *Client) CreateNote(ctx context.Context, payload NotePayload) (notes.Note, error) {
	var result notes.Note
	err := c.do(ctx, http.MethodPost, "/api/notes", payload, nil, &result)
	return result, err
}

func (c *Client) UpdateNote(ctx context.Context, id int64, payload NotePayload) (notes.Note, error) {
	var result notes.Note
	err := c.do(ctx, http.MethodPut, notePath(id), payload, nil, &result)
	return result, err
}

func (c *Client) DeleteNote(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, notePath(id), nil, nil, nil)
}

func (c *Client) ListFolders(ctx context.Context) ([]notes.Folder, error) {
	var result []notes.Folder
	err := c.do(ctx, http.MethodGet, "/api/folders", nil, nil, &result)
	return result, err
}

func (c *Client) GetFolder(ctx context.Context, id int64) (notes.Folder, error) {
	var result notes.Folder
	err := c.do(ctx, http.MethodGet, folderPath(id), nil, nil, &result)
	return result, err
}

func (c *Client) CreateFolder(ctx context.Context, payload FolderPayload) (notes.Folder, error) {
	var result notes.Folder
	err := c.do(ctx, http.MethodPost, "/api/folders", payload, nil, &result)
	return result, err
}

func (c *Client) UpdateFolder(ctx context.Context, id int64, payload FolderPayload) (notes.Folder, error) {
	var result notes.Folder
	err := c.do(ctx, http.MethodPut, folderPath(id), payload, nil, &result)
	return result, err
}

func (c *Client) DeleteFolder(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, folderPath(id), nil, nil, nil)
}

func notePath(id int64) string {
	return "/api/notes/" + strconv.FormatInt(id, 10)
}

func folderPath(id int64) string {
	return "/api/folders/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	target := c.baseURL.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("remote request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(response)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

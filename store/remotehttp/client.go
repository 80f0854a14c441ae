// Package remotehttp talks to a path-addressed contents API in the style of the
// GitHub repository contents endpoints: files carry base64 content and a sha
// revision, writes carry a commit message, and directories list their entries.
package remotehttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/breez/data-store/store"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

type contentResponse struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type RemoteContentStorage struct {
	HTTPClient *retryablehttp.Client
	BaseURL    *url.URL
	Token      string
}

func NewRemoteContentStorage(baseURL, token string, retryMax int, logger zerolog.Logger) (*RemoteContentStorage, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote base url %q: %w", baseURL, err)
	}
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.Logger = &logger
	client.CheckRetry = retryReads
	return &RemoteContentStorage{HTTPClient: client, BaseURL: u, Token: token}, nil
}

type retryableKey struct{}

// retryReads retries only requests marked as reads. A conditional write that
// failed in flight may already have committed, and replaying it would report a
// conflict against its own revision.
func retryReads(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if retryable, _ := ctx.Value(retryableKey{}).(bool); !retryable {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *RemoteContentStorage) contentsURL(path string) *url.URL {
	components := []string{"contents"}
	if p := store.NormalizePath(path); p != "" {
		components = append(components, strings.Split(p, "/")...)
	}
	return c.BaseURL.JoinPath(components...)
}

func (c *RemoteContentStorage) httpRequest(ctx context.Context, method string, u *url.URL, payload interface{}, what string) (*http.Response, []byte, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, nil, fmt.Errorf("%s failed: cannot encode request: %w", what, err)
		}
	}
	if method == http.MethodGet {
		ctx = context.WithValue(ctx, retryableKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: create request failed: %w", what, err)
	}
	req.Header.Set("Accept", "application/json")
	if len(data) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: %w", what, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: cannot read body: %w", what, err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, nil, fmt.Errorf("%s failed: requires auth", what)
	case http.StatusForbidden:
		return nil, nil, fmt.Errorf("%s failed: not authorized", what)
	case http.StatusBadRequest:
		return nil, nil, fmt.Errorf("%s failed: request not understood", what)
	case http.StatusInternalServerError:
		return nil, nil, fmt.Errorf("%s failed: internal server error", what)
	}
	return resp, body, nil
}

func (c *RemoteContentStorage) Read(ctx context.Context, path string) (store.ReadResult, error) {
	resp, body, err := c.httpRequest(ctx, http.MethodGet, c.contentsURL(path), nil, "read "+path)
	if err != nil {
		return store.ReadResult{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return store.ReadResult{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return store.ReadResult{}, fmt.Errorf("read %v failed: http response code %d", path, resp.StatusCode)
	}

	// A directory answers with a listing; there is no file content to return.
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
		return store.ReadResult{}, nil
	}
	var content contentResponse
	if err := json.Unmarshal(body, &content); err != nil {
		return store.ReadResult{}, fmt.Errorf("read %v failed: cannot decode body: %w", path, err)
	}
	if content.Type != "" && content.Type != "file" {
		return store.ReadResult{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("read %v failed: cannot decode content: %w", path, err)
	}
	return store.ReadResult{Found: true, Content: data, Revision: content.SHA}, nil
}

func (c *RemoteContentStorage) Create(ctx context.Context, path string, content []byte, message string) (string, error) {
	resp, body, err := c.httpRequest(ctx, http.MethodPut, c.contentsURL(path), &writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
	}, "create "+path)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return decodeRevision(path, body)
	case http.StatusUnprocessableEntity, http.StatusConflict:
		return "", fmt.Errorf("failed to create %v: %w", path, store.ErrAlreadyExists)
	}
	return "", fmt.Errorf("create %v failed: http response code %d", path, resp.StatusCode)
}

func (c *RemoteContentStorage) Update(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	resp, body, err := c.httpRequest(ctx, http.MethodPut, c.contentsURL(path), &writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     revision,
	}, "update "+path)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return decodeRevision(path, body)
	case http.StatusNotFound:
		return "", fmt.Errorf("failed to write %v: %w", path, store.ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return "", &store.ConflictError{Path: store.NormalizePath(path), Expected: revision}
	}
	return "", fmt.Errorf("update %v failed: http response code %d", path, resp.StatusCode)
}

func (c *RemoteContentStorage) Delete(ctx context.Context, path, message, revision string) error {
	resp, _, err := c.httpRequest(ctx, http.MethodDelete, c.contentsURL(path), &writeRequest{
		Message: message,
		SHA:     revision,
	}, "delete "+path)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("failed to delete %v: %w", path, store.ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return &store.ConflictError{Path: store.NormalizePath(path), Expected: revision}
	}
	return fmt.Errorf("delete %v failed: http response code %d", path, resp.StatusCode)
}

func (c *RemoteContentStorage) ListChildren(ctx context.Context, dir string) ([]store.Entry, error) {
	resp, body, err := c.httpRequest(ctx, http.MethodGet, c.contentsURL(dir), nil, "list "+dir)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return []store.Entry{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %v failed: http response code %d", dir, resp.StatusCode)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
		return []store.Entry{}, nil
	}

	var listing []contentResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("list %v failed: cannot decode body: %w", dir, err)
	}
	entries := make([]store.Entry, 0, len(listing))
	for _, item := range listing {
		t := store.EntryFile
		if item.Type == "dir" {
			t = store.EntryDir
		}
		entries = append(entries, store.Entry{Name: item.Name, Type: t})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func decodeRevision(path string, body []byte) (string, error) {
	var res writeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("write %v failed: cannot decode body: %w", path, err)
	}
	return res.Content.SHA, nil
}

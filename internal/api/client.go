// Package api is a typed client for the events REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/query"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/transport/httpclient"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// Doer is satisfied by *httpclient.Client.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Client struct {
	BaseURL string
	HTTP    Doer
}

func New(baseURL string, hc Doer) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

type AuthResult struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// ListEvents fetches one page of events for f.
func (c *Client) ListEvents(ctx context.Context, f domain.Filter) (*domain.ListResult, error) {
	var out domain.ListResult
	err := c.do(ctx, "/api/events", http.MethodGet, "/api/events?"+query.Encode(f), "", nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if out.Events == nil {
		out.Events = []domain.EventSummary{}
	}
	return &out, nil
}

func (c *Client) GetEvent(ctx context.Context, id string) (*domain.EventDetail, error) {
	var out domain.EventDetail
	if err := c.do(ctx, "/api/events/{id}", http.MethodGet, eventPath(id), "", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateEvent(ctx context.Context, token, idempotencyKey string, in domain.EventInput) (*domain.EventDetail, error) {
	var out domain.EventDetail
	h := idempotencyHeader(idempotencyKey)
	if err := c.do(ctx, "/api/events", http.MethodPost, "/api/events", token, h, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateEvent(ctx context.Context, token, idempotencyKey, id string, in domain.EventInput) (*domain.EventDetail, error) {
	var out domain.EventDetail
	h := idempotencyHeader(idempotencyKey)
	if err := c.do(ctx, "/api/events/{id}", http.MethodPut, eventPath(id), token, h, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteEvent(ctx context.Context, token, id string) error {
	return c.do(ctx, "/api/events/{id}", http.MethodDelete, eventPath(id), token, nil, nil, nil)
}

// JoinEvent returns the event with the caller added to its attendees.
func (c *Client) JoinEvent(ctx context.Context, token, id string) (*domain.EventDetail, error) {
	var out domain.EventDetail
	if err := c.do(ctx, "/api/events/{id}/join", http.MethodPost, eventPath(id)+"/join", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LeaveEvent(ctx context.Context, token, id string) (*domain.EventDetail, error) {
	var out domain.EventDetail
	if err := c.do(ctx, "/api/events/{id}/leave", http.MethodPost, eventPath(id)+"/leave", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out AuthResult
	if err := c.do(ctx, "/api/auth/login", http.MethodPost, "/api/auth/login", "", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var out AuthResult
	if err := c.do(ctx, "/api/auth/register", http.MethodPost, "/api/auth/register", "", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me resolves the user behind token.
func (c *Client) Me(ctx context.Context, token string) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, "/api/auth/me", http.MethodGet, "/api/auth/me", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadImage posts one file as multipart field "file" and returns its public URL.
func (c *Client) UploadImage(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, "multipart_failed", "could not build upload", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", domain.Wrap(domain.KindInternal, "multipart_failed", "could not read file", err)
	}
	if err := mw.Close(); err != nil {
		return "", domain.Wrap(domain.KindInternal, "multipart_failed", "could not build upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/images/upload", &buf)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, "bad_request", "could not build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.send(httpclient.WithRoute(ctx, "/api/images/upload"), req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", domain.New(domain.KindInternal, "upload_failed", "upload response had no url")
	}
	return out.URL, nil
}

func (c *Client) do(ctx context.Context, route, method, path, token string, headers map[string]string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return domain.Wrap(domain.KindInternal, "encode_failed", "could not encode request", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "bad_request", "could not build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.send(httpclient.WithRoute(ctx, route), req, out)
}

func (c *Client) send(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Wrap(domain.KindInternal, "decode_failed", "unexpected response from server", err)
	}
	return nil
}

func mapTransportError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrNetwork(err)
}

func eventPath(id string) string {
	return "/api/events/" + url.PathEscape(id)
}

func idempotencyHeader(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{HeaderIdempotencyKey: key}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

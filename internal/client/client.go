// Package client talks to a rankfeed server over HTTP. A *Client satisfies
// feed.Source, feed.Publisher, events.Source and blob.Store, so a remote UI
// can drive a feed.View and an events.Poller exactly like an in-process one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

type Client struct {
	base       string
	identity   string
	adminToken string
	http       *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithAdminToken(token string) Option { return func(c *Client) { c.adminToken = token } }

// New returns a client for the server at baseURL acting as identity.
func New(baseURL, identity string, opts ...Option) *Client {
	c := &Client{
		base:     strings.TrimRight(baseURL, "/"),
		identity: identity,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Identity() string { return c.identity }

type pageRequest struct {
	Limit   int      `json:"limit"`
	Exclude []uint64 `json:"exclude,omitempty"`
	Since   int64    `json:"since,omitempty"`
}

func (c *Client) RankedPage(ctx context.Context, limit int, exclude []uint64) ([]models.Post, error) {
	var out []models.Post
	err := c.do(ctx, "RankedPage", http.MethodPost, "/api/feed/ranked", pageRequest{Limit: limit, Exclude: exclude}, &out)
	return out, err
}

func (c *Client) OwnerPage(ctx context.Context, owner string, limit int, exclude []uint64) ([]models.Post, error) {
	var out []models.Post
	path := "/api/feed/owner/" + url.PathEscape(owner)
	err := c.do(ctx, "OwnerPage", http.MethodPost, path, pageRequest{Limit: limit, Exclude: exclude}, &out)
	return out, err
}

func (c *Client) NewSince(ctx context.Context, limit int, exclude []uint64, since int64) ([]models.Post, error) {
	var out []models.Post
	err := c.do(ctx, "NewSince", http.MethodPost, "/api/feed/new", pageRequest{Limit: limit, Exclude: exclude, Since: since}, &out)
	return out, err
}

func (c *Client) GetPost(ctx context.Context, id uint64) (models.Lookup, error) {
	var out struct {
		Post    models.Post `json:"post"`
		Deleted bool        `json:"deleted"`
	}
	if err := c.do(ctx, "GetPost", http.MethodGet, postPath(id), nil, &out); err != nil {
		return nil, err
	}
	if out.Deleted {
		return models.Deleted{Post: out.Post}, nil
	}
	return models.Present{Post: out.Post}, nil
}

func (c *Client) Vote(ctx context.Context, id uint64, dir models.Direction) (models.Post, error) {
	var out models.Post
	body := map[string]string{"direction": dir.String()}
	err := c.do(ctx, "Vote", http.MethodPost, postPath(id)+"/vote", body, &out)
	return out, err
}

func (c *Client) CreatePost(ctx context.Context, contentRef, mediaRef string) (models.Post, error) {
	var out models.Post
	body := map[string]string{"contentRef": contentRef, "mediaRef": mediaRef}
	err := c.do(ctx, "CreatePost", http.MethodPost, "/api/posts", body, &out)
	return out, err
}

func (c *Client) DeletePost(ctx context.Context, id uint64) error {
	return c.do(ctx, "DeletePost", http.MethodDelete, postPath(id), nil, nil)
}

func (c *Client) EventsSince(ctx context.Context, after uint64, limit int) ([]models.Event, error) {
	var out []models.Event
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	q.Set("limit", strconv.Itoa(limit))
	err := c.do(ctx, "EventsSince", http.MethodGet, "/api/events?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) LatestSeq(ctx context.Context) (uint64, error) {
	var out struct {
		Seq uint64 `json:"seq"`
	}
	err := c.do(ctx, "LatestSeq", http.MethodGet, "/api/events/latest", nil, &out)
	return out.Seq, err
}

// Put uploads a blob. Empty payloads never leave the process.
func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return models.EmptyRef, nil
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, "Put", http.MethodPost, "/api/blobs", data, &out)
	return out.ID, err
}

func (c *Client) Get(ctx context.Context, id string) ([]byte, error) {
	if id == models.EmptyRef {
		return []byte{}, nil
	}
	var out []byte
	err := c.do(ctx, "Get", http.MethodGet, "/api/blobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

func postPath(id uint64) string {
	return "/api/posts/" + strconv.FormatUint(id, 10)
}

// do sends one request. A []byte body is sent raw and a *[]byte out receives
// the raw response; anything else goes through JSON.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		rdr = bytes.NewReader(buf)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.identity != "" {
		req.Header.Set("X-Identity", c.identity)
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, op, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, data)
	}
	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o = data
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}
}

func statusError(op string, status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	var kind apperr.Kind
	switch {
	case status == http.StatusNotFound:
		kind = apperr.KindNotFound
	case status == http.StatusBadRequest:
		kind = apperr.KindValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = apperr.KindForbidden
	case status == http.StatusConflict:
		kind = apperr.KindConflict
	case status == http.StatusTooManyRequests, status >= 500:
		kind = apperr.KindTransient
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, status, msg)
	}
	return &apperr.Error{Kind: kind, Op: op, Msg: msg, Err: errors.New(http.StatusText(status))}
}

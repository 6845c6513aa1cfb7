// Package api is the REST client for the discussion backend: post history,
// post creation, votes, comments and community lookup.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"discussify/internal/models"
	"discussify/internal/observability"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 * 1024

// File is one attachment uploaded with a post.
type File struct {
	Name    string
	Content []byte
}

// CreatePostInput holds the fields of a new post.
type CreatePostInput struct {
	CommunityID string
	Title       string
	Content     string
	Files       []File
}

// Client calls the backend REST API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	writes     *rate.Limiter
	traces     *observability.TraceLayer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger for failed calls.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithWriteRate limits write calls (posts, votes, comments) to perSecond with
// the given burst. A non-positive rate disables the limit.
func WithWriteRate(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.writes = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.writes = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     observability.GlobalLogger.Logger,
		traces:     observability.GetTraceLayer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListCommunityPosts fetches the history page of a community, newest first.
func (c *Client) ListCommunityPosts(ctx context.Context, communityID string) ([]models.Post, error) {
	var out struct {
		Posts []models.Post `json:"posts"`
	}
	path := "/api/v1/communities/" + url.PathEscape(communityID) + "/posts"
	if err := c.do(ctx, "list_posts", http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	if out.Posts == nil {
		out.Posts = []models.Post{}
	}
	return out.Posts, nil
}

// GetCommunity fetches one community.
func (c *Client) GetCommunity(ctx context.Context, communityID string) (models.Community, error) {
	var out struct {
		Community models.Community `json:"community"`
	}
	path := "/api/v1/communities/" + url.PathEscape(communityID)
	if err := c.do(ctx, "get_community", http.MethodGet, path, nil, "", &out); err != nil {
		return models.Community{}, err
	}
	return out.Community, nil
}

// CreatePost uploads a new post as a multipart form and returns the confirmed post.
func (c *Client) CreatePost(ctx context.Context, in CreatePostInput) (models.Post, error) {
	if err := c.waitWrite(ctx); err != nil {
		return models.Post{}, err
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fields := [][2]string{{"content", in.Content}, {"communityId", in.CommunityID}, {"title", in.Title}}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return models.Post{}, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	for _, f := range in.Files {
		part, err := w.CreateFormFile("file", f.Name)
		if err != nil {
			return models.Post{}, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return models.Post{}, fmt.Errorf("write form file: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return models.Post{}, fmt.Errorf("close multipart writer: %w", err)
	}

	var out struct {
		Post models.Post `json:"post"`
	}
	if err := c.do(ctx, "create_post", http.MethodPost, "/api/v1/posts", body, w.FormDataContentType(), &out); err != nil {
		return models.Post{}, err
	}
	if out.Post.ID == "" {
		return models.Post{}, models.NewInternalError(errors.New("create post: response has no post id"))
	}
	return out.Post, nil
}

// ToggleVote flips the caller's vote on a post and returns the authoritative post.
func (c *Client) ToggleVote(ctx context.Context, postID string) (models.Post, error) {
	if err := c.waitWrite(ctx); err != nil {
		return models.Post{}, err
	}
	var out struct {
		Post models.Post `json:"post"`
	}
	path := "/api/v1/posts/" + url.PathEscape(postID) + "/vote"
	if err := c.do(ctx, "toggle_vote", http.MethodPost, path, nil, "", &out); err != nil {
		return models.Post{}, err
	}
	if out.Post.ID != postID {
		return models.Post{}, models.NewInternalError(fmt.Errorf("toggle vote: response is for post %q, want %q", out.Post.ID, postID))
	}
	return out.Post, nil
}

// CreateComment adds a comment to a post.
func (c *Client) CreateComment(ctx context.Context, postID, content string) (models.Comment, error) {
	if err := c.waitWrite(ctx); err != nil {
		return models.Comment{}, err
	}
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return models.Comment{}, fmt.Errorf("marshal comment: %w", err)
	}
	var out struct {
		Comment models.Comment `json:"comment"`
	}
	path := "/api/v1/posts/" + url.PathEscape(postID) + "/comment"
	if err := c.do(ctx, "create_comment", http.MethodPost, path, bytes.NewReader(payload), "application/json", &out); err != nil {
		return models.Comment{}, err
	}
	return out.Comment, nil
}

func (c *Client) waitWrite(ctx context.Context) error {
	if c.writes == nil {
		return nil
	}
	if err := c.writes.Wait(ctx); err != nil {
		return models.NewNetworkError("rate limit wait", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, span := c.traces.TraceAPICall(ctx, operation, method, path)
	track := observability.TrackRequest(operation)
	status := "error"
	defer func() {
		track(status)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "api call failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return models.NewNetworkError(operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.logger.WarnContext(ctx, "api call rejected",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewInternalError(fmt.Errorf("decode %s response: %w", operation, err))
	}
	return nil
}

// decodeError turns a non-2xx response into an AppError carrying the backend
// message, which is what the user gets to see.
func decodeError(resp *http.Response) *models.AppError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body models.ErrorResponse
	_ = json.Unmarshal(data, &body)
	message := body.Message
	if message == "" {
		message = body.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	code := body.Code
	if code == "" {
		switch {
		case resp.StatusCode == http.StatusNotFound:
			code = models.CodeNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			code = models.CodeUnauthorized
		case resp.StatusCode >= 500:
			code = models.CodeInternal
		default:
			code = models.CodeValidation
		}
	}

	return &models.AppError{
		Code:    code,
		Message: message,
		Err:     fmt.Errorf("http status %d", resp.StatusCode),
	}
}

// Package vantage6 implements the REST client used to run the descriptive
// statistics task on the collaboration server and collect its results.
package vantage6

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	pkglog "github.com/strongaya/federated-data-portal/pkg/log"
)

const (
	defaultPollInterval = 2 * time.Second
	tokenRefreshSlack   = 30 * time.Second
	userAgent           = "federated-data-portal/vantage6-client"
)

// Options configures a Client.
type Options struct {
	// BaseURL includes the API path, e.g. https://server.example.org:443/api.
	BaseURL                 string
	Username                string
	Password                string
	Collaboration           int
	AggregatingOrganisation int
	TaskImage               string
	TaskMethod              string
	TaskTimeout             time.Duration
	PrivateKeyPath          string
	HTTPClient              *http.Client
	PollInterval            time.Duration
}

// Client talks to a vantage6 server on behalf of the portal's service
// account.
type Client struct {
	opts       Options
	httpClient *http.Client
	poller     *rate.Limiter
	decryptor  *decryptor

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New constructs a client and loads the organisation private key when one is
// configured.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("vantage6: base url not configured")
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("vantage6: service account credentials not configured")
	}
	if opts.Collaboration <= 0 {
		return nil, errors.New("vantage6: collaboration id not configured")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	c := &Client{
		opts:       opts,
		httpClient: httpClient,
		poller:     rate.NewLimiter(rate.Every(pollInterval), 1),
	}

	if opts.PrivateKeyPath != "" {
		d, err := newDecryptor(opts.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("vantage6: load private key: %w", err)
		}
		c.decryptor = d
	}

	return c, nil
}

// Login authenticates the service account and caches the bearer token. The
// expiry is taken from the token claims so refresh happens ahead of time.
func (c *Client) Login(ctx context.Context) error {
	payload := map[string]string{
		"username": c.opts.Username,
		"password": c.opts.Password,
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token/user", payload, &resp, false); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return errors.New("login: server returned no access token")
	}

	expiry := time.Now().Add(5 * time.Minute)
	if claims := parseExpiry(resp.AccessToken); !claims.IsZero() {
		expiry = claims
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()

	pkglog.Named("vantage6").Debugw("service account authenticated", "expiry", expiry)
	return nil
}

func parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	valid := c.accessToken != "" && time.Until(c.tokenExpiry) > tokenRefreshSlack
	c.mu.Unlock()

	if valid {
		return nil
	}
	return c.Login(ctx)
}

// Organizations lists the members of the configured collaboration.
func (c *Client) Organizations(ctx context.Context) ([]Organization, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var page organizationPage
	path := fmt.Sprintf("/organization?collaboration_id=%d", c.opts.Collaboration)
	if err := c.do(ctx, http.MethodGet, path, nil, &page, true); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return page.Data, nil
}

// CreateTask submits the descriptive statistics task to the collaboration
// and returns the task id.
func (c *Client) CreateTask(ctx context.Context, name string) (int, error) {
	if err := c.ensureToken(ctx); err != nil {
		return 0, err
	}

	input, err := encodeTaskInput(c.opts.TaskMethod)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"name":             name,
		"image":            c.opts.TaskImage,
		"description":      "Collaboration-wide descriptive statistics for the data management portal",
		"collaboration_id": c.opts.Collaboration,
		"organizations": []map[string]any{
			{
				"id":    c.opts.AggregatingOrganisation,
				"input": input,
			},
		},
		"databases": []map[string]string{{"label": "default"}},
	}

	var resp taskResponse
	if err := c.do(ctx, http.MethodPost, "/task", payload, &resp, true); err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	if resp.ID == 0 {
		return 0, errors.New("create task: server returned no task id")
	}
	return resp.ID, nil
}

func encodeTaskInput(method string) (string, error) {
	if method == "" {
		return "", errors.New("task method not configured")
	}
	raw, err := json.Marshal(map[string]any{
		"method": method,
		"kwargs": map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("encode task input: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// WaitForResults polls the task until completion and returns the decoded
// per-organisation descriptives. Polling is paced so a slow collaboration
// does not get hammered.
func (c *Client) WaitForResults(ctx context.Context, taskID int) ([]OrganisationDescriptives, error) {
	timeout := c.opts.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if err := c.poller.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for task %d: %w", taskID, err)
		}
		if err := c.ensureToken(ctx); err != nil {
			return nil, err
		}

		var task taskResponse
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/task/%d", taskID), nil, &task, true); err != nil {
			return nil, fmt.Errorf("poll task %d: %w", taskID, err)
		}

		switch task.Status {
		case StatusCompleted:
			return c.collectResults(ctx, taskID)
		case StatusFailed, StatusCrashed, StatusKilled:
			return nil, fmt.Errorf("task %d ended with status %q", taskID, task.Status)
		default:
			// pending or active; keep polling
		}
	}
}

func (c *Client) collectResults(ctx context.Context, taskID int) ([]OrganisationDescriptives, error) {
	var page resultPage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/result?task_id=%d", taskID), nil, &page, true); err != nil {
		return nil, fmt.Errorf("fetch results for task %d: %w", taskID, err)
	}
	if len(page.Data) == 0 {
		return nil, fmt.Errorf("task %d completed without results", taskID)
	}

	var all []OrganisationDescriptives
	for _, record := range page.Data {
		decoded, err := c.decodeResult(record.Result)
		if err != nil {
			return nil, fmt.Errorf("decode result %d of task %d: %w", record.ID, taskID, err)
		}
		all = append(all, decoded...)
	}
	return all, nil
}

func (c *Client) decodeResult(raw string) ([]OrganisationDescriptives, error) {
	if raw == "" {
		return nil, errors.New("empty result payload")
	}

	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	if c.decryptor != nil && !looksLikeJSON(payload) {
		payload, err = c.decryptor.decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}

	var descriptives []OrganisationDescriptives
	if err := json.Unmarshal(payload, &descriptives); err != nil {
		return nil, fmt.Errorf("decode descriptives: %w", err)
	}
	return descriptives, nil
}

// Descriptives runs the full fetch: login, submit, wait, decode.
func (c *Client) Descriptives(ctx context.Context, taskName string) ([]OrganisationDescriptives, error) {
	taskID, err := c.CreateTask(ctx, taskName)
	if err != nil {
		return nil, err
	}

	pkglog.Named("vantage6").Infow("descriptives task submitted", "taskId", taskID, "name", taskName)
	return c.WaitForResults(ctx, taskID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		c.mu.Lock()
		token := c.accessToken
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: decodeServerMessage(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func looksLikeJSON(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

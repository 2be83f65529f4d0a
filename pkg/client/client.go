package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "http://localhost:3001"

// Client provides HTTP client functionality to communicate with a devdash server
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string // server root, without /api
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	CACert   string       // CA certificate file for https servers
	Insecure bool         // Skip TLS verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new devdash API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.Insecure || config.CACert != "" {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the server is running and healthy
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	reachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Server reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

// ListScripts returns one page of scripts, optionally for one repository.
// page and limit of 0 use the server defaults.
func (c *Client) ListScripts(ctx context.Context, repositoryID string, page, limit int) ([]Script, Pagination, error) {
	q := pageValues(page, limit)
	if repositoryID != "" {
		q.Set("repositoryId", repositoryID)
	}
	var out []Script
	env, err := c.do(ctx, http.MethodGet, "/api/scripts", q, nil, &out)
	if err != nil {
		return nil, Pagination{}, err
	}
	return out, pageOf(env), nil
}

func (c *Client) GetScript(ctx context.Context, id string) (Script, error) {
	var out Script
	_, err := c.do(ctx, http.MethodGet, "/api/scripts/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) CreateScript(ctx context.Context, req CreateScriptRequest) (Script, error) {
	c.logger.Debug("Creating script", "name", req.Name, "command", req.Command, "repository", req.RepositoryID)
	var out Script
	_, err := c.do(ctx, http.MethodPost, "/api/scripts", nil, req, &out)
	return out, err
}

// ExecuteScript starts a run and returns the script as it was right after
// the launch.
func (c *Client) ExecuteScript(ctx context.Context, id string, req ExecuteRequest) (Script, error) {
	c.logger.Debug("Executing script", "id", id, "arguments", req.Arguments)
	var out Script
	_, err := c.do(ctx, http.MethodPost, "/api/scripts/"+url.PathEscape(id)+"/execute", nil, req, &out)
	return out, err
}

func (c *Client) StopScript(ctx context.Context, id string) error {
	c.logger.Debug("Stopping script", "id", id)
	_, err := c.do(ctx, http.MethodPost, "/api/scripts/"+url.PathEscape(id)+"/stop", nil, nil, nil)
	return err
}

func (c *Client) ScriptOutput(ctx context.Context, id string) ([]string, error) {
	var out []string
	_, err := c.do(ctx, http.MethodGet, "/api/scripts/"+url.PathEscape(id)+"/output", nil, nil, &out)
	return out, err
}

func (c *Client) RunningScripts(ctx context.Context) ([]Script, error) {
	var out []Script
	_, err := c.do(ctx, http.MethodGet, "/api/scripts/running", nil, nil, &out)
	return out, err
}

func (c *Client) ListRepositories(ctx context.Context, q RepositoryQuery) ([]Repository, Pagination, error) {
	v := pageValues(q.Page, q.Limit)
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.PackageManager != "" {
		v.Set("packageManager", q.PackageManager)
	}
	var out []Repository
	env, err := c.do(ctx, http.MethodGet, "/api/repositories", v, nil, &out)
	if err != nil {
		return nil, Pagination{}, err
	}
	return out, pageOf(env), nil
}

// EnvFile downloads the repository's variables rendered as a .env file.
func (c *Client) EnvFile(ctx context.Context, repositoryID string) (string, error) {
	u := c.baseURL + "/api/env/repository/" + url.PathEscape(repositoryID) + "/file"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", c.decodeError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

func (c *Client) SystemStatus(ctx context.Context) (SystemStatus, error) {
	var out SystemStatus
	_, err := c.do(ctx, http.MethodGet, "/api/system/status", nil, nil, &out)
	return out, err
}

// do sends in as JSON (when non-nil), decodes the envelope and unmarshals
// its data into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (*envelope, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.Error("Failed to decode response", "status", resp.StatusCode, "error", err)
		return nil, &APIError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		c.logger.Error("API request failed", "error", env.Error, "status", resp.StatusCode)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Error, Details: env.Details}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return &env, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Error("API request failed", "error", env.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: env.Error, Details: env.Details}
}

func pageValues(page, limit int) url.Values {
	v := url.Values{}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	return v
}

func pageOf(env *envelope) Pagination {
	if env.Pagination == nil {
		return Pagination{}
	}
	return *env.Pagination
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.CACert != "" {
		if err := loadCACert(tlsConfig, config.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
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

// Client talks to a clogs collector over its HTTP API. Agents use the
// collection calls; operators use the read calls.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	token   string
}

// Config holds client configuration
type Config struct {
	BaseURL  string // server root including any base_path, e.g. http://host:8080/clogs
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool   // Skip TLS verification
	Token    string // Bearer token when the collector has auth enabled
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path, e.g. the server's tls_ca.crt
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const defaultBaseURL = "http://localhost:8080"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// New creates a new clogs API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
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
		token:   config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the collector is running and its store answers.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil)
	c.logger.Debug("Collector reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// --- collection API ---

// RegisterAgent registers a and returns its id; the server assigns one when
// a.ID is empty.
func (c *Client) RegisterAgent(ctx context.Context, a Agent) (string, error) {
	var id string
	if err := c.do(ctx, http.MethodPost, "/api/agent/", a, &id); err != nil {
		return "", err
	}
	c.logger.Debug("Agent registered", "agent", id)
	return id, nil
}

func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var a Agent
	if err := c.do(ctx, http.MethodGet, "/api/agent/"+url.PathEscape(agentID)+"/", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/agent/"+url.PathEscape(agentID)+"/", nil, nil)
}

// Heartbeat reports agentID alive. The server stamps the time.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, "/api/agent/"+url.PathEscape(agentID)+"/heartbeat", nil, nil)
}

func (c *Client) RegisterContainer(ctx context.Context, agentID string, ct Container) (string, error) {
	var id string
	if err := c.do(ctx, http.MethodPost, "/api/agent/"+url.PathEscape(agentID)+"/container", ct, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SetContainerStatus reports a container status; since (unix seconds) is
// only recorded with the first report.
func (c *Client) SetContainerStatus(ctx context.Context, agentID, containerID, status string, since int64) error {
	q := url.Values{}
	q.Set("status", status)
	q.Set("since", strconv.FormatInt(since, 10))
	p := "/api/agent/" + url.PathEscape(agentID) + "/container/" + url.PathEscape(containerID) + "/status?" + q.Encode()
	return c.do(ctx, http.MethodPost, p, nil, nil)
}

func (c *Client) RegisterContext(ctx context.Context, agentID string, cx Context) (int64, error) {
	var id int64
	if err := c.do(ctx, http.MethodPut, "/api/agent/"+url.PathEscape(agentID)+"/context/", cx, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// UploadLogs sends batches of several containers in one request and returns
// the number of lines accepted.
func (c *Client) UploadLogs(ctx context.Context, agentID string, batches []LogBatch) (int, error) {
	body := struct {
		AgentID       string     `json:"agent_id"`
		ContainerLogs []LogBatch `json:"container_logs"`
	}{AgentID: agentID, ContainerLogs: batches}
	var resp struct {
		Accepted int `json:"accepted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agent/"+url.PathEscape(agentID)+"/logs", body, &resp); err != nil {
		return 0, err
	}
	return resp.Accepted, nil
}

// --- read API ---

func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.do(ctx, http.MethodGet, "/api/web/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Active maps agent id to its liveness as last computed by the server.
func (c *Client) Active(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	if err := c.do(ctx, http.MethodGet, "/api/processors/active", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Logs(ctx context.Context, q LogQuery) ([]Log, error) {
	v := url.Values{}
	if q.ContainerID != "" {
		v.Set("container_id", q.ContainerID)
	}
	if q.Level != "" {
		v.Set("level", q.Level)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	p := "/api/web/logs"
	if len(v) > 0 {
		p += "?" + v.Encode()
	}
	var out []Log
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Processors(ctx context.Context) ([]LoopStatus, error) {
	var out []LoopStatus
	if err := c.do(ctx, http.MethodGet, "/api/processors", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Uptime(ctx context.Context) ([]ContainerUptime, error) {
	var out []ContainerUptime
	if err := c.do(ctx, http.MethodGet, "/api/processors/uptime", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
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

// do sends in as JSON (when non-nil) and decodes a 2xx body into out (when
// non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns a non-2xx response into an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}

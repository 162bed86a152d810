package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/clogs/internal/history"
)

// Config locates the cluster and the target index.
type Config struct {
	// URL is the cluster base URL, e.g. "https://search:9200".
	URL   string
	Index string
	// Daily appends the event day ("-2006.01.02") to Index.
	Daily    bool
	Username string
	Password string
	Timeout  time.Duration
}

// Sink indexes events through the document API. Documents are written with
// PUT {index}/_doc/{event id}, so a retried event overwrites its first copy.
type Sink struct {
	client *http.Client
	cfg    Config
}

func New(cfg Config) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Index == "" {
		cfg.Index = "telemetry-history"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Sink{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

func (s *Sink) Name() string { return "opensearch" }

func (s *Sink) index(e history.Event) string {
	if !s.cfg.Daily {
		return s.cfg.Index
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return s.cfg.Index + "-" + at.UTC().Format("2006.01.02")
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	method, u := http.MethodPost, s.cfg.URL+"/"+url.PathEscape(s.index(e))+"/_doc"
	if e.ID != "" {
		method, u = http.MethodPut, u+"/"+url.PathEscape(e.ID)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

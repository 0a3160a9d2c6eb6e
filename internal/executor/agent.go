package executor

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kubently/kubently/internal/models"
)

const (
	reconnectDelay  = 5 * time.Second
	resultPostTries = 3
	resultPostCap   = 10 * time.Second
)

// Config holds the executor agent settings, normally sourced from the
// environment by the command wrapper.
type Config struct {
	APIURL    string // control plane base URL, e.g. https://kubently.example.com
	ClusterID string
	Token     string // static executor token for this cluster
	Workers   int    // concurrent kubectl invocations; default 1, preserving stream order
	QueueSize int    // buffered commands awaiting the worker; default 8, the stream's in-flight window
	SSLVerify bool   // default true; disabling is for lab clusters only
	CACert    string // optional PEM bundle path for a private CA
}

// A single worker keeps execution order identical to stream delivery order.
// Raising Workers trades that ordering for throughput.
func (c *Config) workers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

func (c *Config) queueSize() int {
	if c.QueueSize <= 0 {
		return 8
	}
	return c.QueueSize
}

// Agent maintains the outbound stream to the control plane and executes the
// commands it receives. All connectivity is agent-initiated, so the cluster
// needs no inbound network path.
type Agent struct {
	cfg    Config
	client *http.Client
	runner Runner
	log    *slog.Logger

	mu     sync.Mutex
	unsent []*models.Result // computed but not yet delivered; flushed after reconnect
}

func NewAgent(cfg Config, runner Runner, log *slog.Logger) (*Agent, error) {
	if cfg.APIURL == "" || cfg.ClusterID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("api url, cluster id and token are all required")
	}
	client, err := newHTTPClient(cfg, log)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = &KubectlRunner{}
	}
	return &Agent{cfg: cfg, client: client, runner: runner, log: log}, nil
}

func newHTTPClient(cfg Config, log *slog.Logger) (*http.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if !cfg.SSLVerify {
		log.Warn("TLS certificate verification is DISABLED; use only against lab clusters")
		tlsCfg.InsecureSkipVerify = true
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no usable certificates", cfg.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		// No overall timeout: the stream request is long-lived. Result posts
		// get their own deadline.
	}, nil
}

// Run connects, executes and reports until ctx is cancelled. Connection
// failures reconnect after a fixed delay; commands already claimed keep
// running across the gap and their results are re-posted once the control
// plane is reachable again.
func (a *Agent) Run(ctx context.Context) error {
	work := make(chan *models.Command, a.cfg.queueSize())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < a.cfg.workers(); i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case cmd := <-work:
					res := a.runner.Run(gctx, cmd)
					a.deliver(gctx, res)
				}
			}
		})
	}
	g.Go(func() error {
		for {
			err := a.stream(gctx, work)
			if gctx.Err() != nil {
				return nil
			}
			a.log.Warn("stream disconnected; reconnecting", "delay", reconnectDelay.String(), "error", err)
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(reconnectDelay):
			}
		}
	})
	return g.Wait()
}

// stream holds one SSE connection open and feeds decoded commands to work.
func (a *Agent) stream(ctx context.Context, work chan<- *models.Command) error {
	url := strings.TrimRight(a.cfg.APIURL, "/") + "/executor/stream?cluster_id=" + a.cfg.ClusterID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("X-Cluster-ID", a.cfg.ClusterID)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	a.log.Info("connected to control plane", "cluster_id", a.cfg.ClusterID)
	a.flushUnsent(ctx)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event, data := "", ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			a.handleEvent(ctx, event, data, work)
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

func (a *Agent) handleEvent(ctx context.Context, event, data string, work chan<- *models.Command) {
	switch event {
	case "command":
		var cmd models.Command
		if err := json.Unmarshal([]byte(data), &cmd); err != nil {
			a.log.Error("undecodable command event", "error", err)
			return
		}
		select {
		case work <- &cmd:
		case <-ctx.Done():
		}
	case "connected":
		a.log.Debug("stream handshake", "payload", data)
	case "keepalive":
		// nothing to do
	default:
		// unknown event kinds are ignored for forward compatibility
	}
}

// deliver posts the result with bounded retries; if the control plane stays
// unreachable the result is parked and flushed on the next reconnect.
func (a *Agent) deliver(ctx context.Context, res *models.Result) {
	if err := a.postResult(ctx, res); err != nil {
		a.log.Warn("result delivery failed; parking for re-post", "command_id", res.CommandID, "error", err)
		a.mu.Lock()
		a.unsent = append(a.unsent, res)
		a.mu.Unlock()
	}
}

func (a *Agent) flushUnsent(ctx context.Context) {
	a.mu.Lock()
	parked := a.unsent
	a.unsent = nil
	a.mu.Unlock()
	for _, res := range parked {
		a.deliver(ctx, res)
	}
}

func (a *Agent) postResult(ctx context.Context, res *models.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxInterval(resultPostCap),
	), resultPostTries-1), ctx)

	return backoff.Retry(func() error {
		postCtx, cancel := context.WithTimeout(ctx, resultPostCap)
		defer cancel()

		url := strings.TrimRight(a.cfg.APIURL, "/") + "/executor/results"
		req, err := http.NewRequestWithContext(postCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
		req.Header.Set("X-Cluster-ID", a.cfg.ClusterID)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
			// Retrying with the same credentials cannot succeed.
			return backoff.Permanent(fmt.Errorf("result rejected with %d", resp.StatusCode))
		default:
			return fmt.Errorf("result post returned %d", resp.StatusCode)
		}
	}, policy)
}

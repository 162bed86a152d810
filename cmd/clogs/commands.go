package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/clogs/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080"

// connect builds a client and fails early when the collector is down.
func connect(ctx context.Context, f APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = f.APIUrl
	} else {
		cfg.BaseURL = defaultAPIUrl
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.Insecure = f.Insecure
	cfg.Token = f.Token
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	c := client.New(cfg)
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("collector not reachable at %s - start it with 'clogs serve'", cfg.BaseURL)
	}
	return c, nil
}

func runAgents(ctx context.Context, w io.Writer, f APIFlags, active bool) error {
	c, err := connect(ctx, f)
	if err != nil {
		return err
	}
	if active {
		m, err := c.Active(ctx)
		if err != nil {
			return err
		}
		printJSON(w, m)
		return nil
	}
	agents, err := c.Agents(ctx)
	if err != nil {
		return err
	}
	printJSON(w, agents)
	return nil
}

func runLogs(ctx context.Context, w io.Writer, f LogsFlags) error {
	if f.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	c, err := connect(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	logs, err := c.Logs(ctx, client.LogQuery{ContainerID: f.ContainerID, Level: f.Level, Limit: f.Limit})
	if err != nil {
		return err
	}
	printJSON(w, logs)
	return nil
}

func runProcessors(ctx context.Context, w io.Writer, f APIFlags, uptime bool) error {
	c, err := connect(ctx, f)
	if err != nil {
		return err
	}
	if uptime {
		u, err := c.Uptime(ctx)
		if err != nil {
			return err
		}
		printJSON(w, u)
		return nil
	}
	st, err := c.Processors(ctx)
	if err != nil {
		return err
	}
	printJSON(w, st)
	return nil
}

func runHeartbeat(ctx context.Context, w io.Writer, f HeartbeatFlags) error {
	if f.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	c, err := connect(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if err := c.Heartbeat(ctx, f.AgentID); err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("agent %s is not registered", f.AgentID)
		}
		return err
	}
	_, _ = fmt.Fprintf(w, "heartbeat sent for %s\n", f.AgentID)
	return nil
}

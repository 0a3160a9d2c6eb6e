// The kubently-executor binary runs inside a target cluster. It opens an
// outbound stream to the control plane, runs whitelisted read-only kubectl
// commands, and posts the results back. No inbound ports are required.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kubently/kubently/internal/executor"
	"github.com/kubently/kubently/internal/pkg/logger"
)

func main() {
	log := logger.StdLogger()

	cfg := executor.Config{
		APIURL:    os.Getenv("KUBENTLY_API_URL"),
		ClusterID: os.Getenv("CLUSTER_ID"),
		Token:     os.Getenv("KUBENTLY_TOKEN"),
		CACert:    os.Getenv("KUBENTLY_CA_CERT"),
		SSLVerify: true,
	}
	if cfg.APIURL == "" || cfg.ClusterID == "" || cfg.Token == "" {
		log.Error("KUBENTLY_API_URL, CLUSTER_ID and KUBENTLY_TOKEN must all be set")
		os.Exit(1)
	}
	if v := os.Getenv("KUBENTLY_SSL_VERIFY"); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			log.Error("KUBENTLY_SSL_VERIFY must be a boolean", "value", v)
			os.Exit(1)
		}
		cfg.SSLVerify = verify
	}
	if v := os.Getenv("KUBENTLY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}

	agent, err := executor.NewAgent(cfg, nil, log)
	if err != nil {
		log.Error("failed to initialize executor agent", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("executor starting", "cluster_id", cfg.ClusterID, "api_url", cfg.APIURL)
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("executor stopped with error", "error", err)
		os.Exit(2)
	}
	log.Info("executor stopped")
}

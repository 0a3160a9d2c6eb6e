// Package executor implements the in-cluster agent: it holds an outbound
// stream to the control plane, runs whitelisted read-only kubectl commands,
// and posts results back.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/kubently/kubently/internal/models"
)

const defaultCommandTimeout = 30 * time.Second

// Runner executes one command and produces its result.
type Runner interface {
	Run(ctx context.Context, cmd *models.Command) *models.Result
}

// KubectlRunner shells out to kubectl with the command's args. The control
// plane already validated the verb, but the runner re-checks locally so a
// compromised or buggy control plane cannot push a mutating command through.
type KubectlRunner struct {
	Binary string // defaults to "kubectl"
}

func (k *KubectlRunner) binary() string {
	if k.Binary != "" {
		return k.Binary
	}
	return "kubectl"
}

// Run executes cmd and never returns an error: failures are encoded in the
// result so they reach the caller waiting on the control plane.
func (k *KubectlRunner) Run(ctx context.Context, cmd *models.Command) *models.Result {
	started := time.Now()
	res := &models.Result{
		CommandID:  cmd.CommandID,
		ClusterID:  cmd.ClusterID,
		ExecutedAt: started.UTC(),
	}

	if len(cmd.Args) == 0 || !cmd.CommandType.Valid() || !cmd.CommandType.VerbAllowed(cmd.Args[0]) {
		res.Status = models.StatusError
		res.ReturnCode = -1
		res.Stderr = "command rejected: verb not allowed for command type"
		res.ExecutionTimeMs = time.Since(started).Milliseconds()
		return res
	}

	timeout := defaultCommandTimeout
	if cmd.TimeoutMs > 0 {
		timeout = time.Duration(cmd.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	proc := exec.CommandContext(runCtx, k.binary(), cmd.Args...)
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	err := proc.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExecutionTimeMs = time.Since(started).Milliseconds()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.Status = models.StatusTimeout
		res.ReturnCode = -1
		if res.Stderr == "" {
			res.Stderr = "kubectl timed out"
		}
	case err == nil:
		res.Status = models.StatusSuccess
		res.Success = true
	default:
		res.Status = models.StatusFailed
		res.ReturnCode = exitCode(err)
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
	}
	return res
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

package a2a

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kubently/kubently/internal/models"
)

// Dispatcher executes one read-only command against a cluster and returns
// its result. The server wires this to the command queue.
type Dispatcher func(ctx context.Context, clusterID string, t models.CommandType, args []string, timeout time.Duration) (*models.Result, error)

// Planner is the port to the reasoning layer. Given the conversation so far
// and the new user message, it emits a sequence of events via emit (the
// server stamps context ids and sequence numbers) and returns when the turn
// is complete. Implementations must stop promptly when ctx is cancelled.
type Planner interface {
	Plan(ctx context.Context, history []Turn, msg Message, emit func(Event) error) error
}

// RulePlanner is the built-in deterministic planner: it maps structured
// natural-language questions onto read-only kubectl invocations. An external
// LLM-backed reasoning layer can replace it behind the same interface.
type RulePlanner struct {
	Dispatch       Dispatcher
	DefaultCluster string
	Timeout        time.Duration
}

var clusterRe = regexp.MustCompile(`(?i)\bcluster\s+([a-zA-Z0-9_-]+)`)

var namespaceRe = regexp.MustCompile(`(?i)\bnamespace\s+([a-z0-9.-]+)`)

// resourceKeywords maps question keywords to the kubectl resource to fetch.
var resourceKeywords = []struct {
	keyword  string
	resource string
}{
	{"pod", "pods"},
	{"deployment", "deployments"},
	{"service", "services"},
	{"node", "nodes"},
	{"namespace", "namespaces"},
	{"event", "events"},
	{"configmap", "configmaps"},
	{"secret", "secrets"},
	{"ingress", "ingresses"},
	{"job", "jobs"},
}

func (p *RulePlanner) Plan(ctx context.Context, history []Turn, msg Message, emit func(Event) error) error {
	question := msg.Text()
	if err := emit(StatusEvent(StateWorking, "", false)); err != nil {
		return err
	}

	clusterID := p.DefaultCluster
	if m := clusterRe.FindStringSubmatch(question); m != nil {
		clusterID = m[1]
	}
	if clusterID == "" {
		if err := emit(ThinkingEvent("no cluster named in the question and no default configured")); err != nil {
			return err
		}
		return emit(StatusEvent(StateFailed, "Name a cluster, e.g. \"what pods run in cluster kind?\"", true))
	}

	resource := ""
	lower := strings.ToLower(question)
	for _, rk := range resourceKeywords {
		if strings.Contains(lower, rk.keyword) {
			resource = rk.resource
			break
		}
	}
	if resource == "" {
		return emit(StatusEvent(StateFailed, "Could not map the question to a cluster resource", true))
	}

	args := []string{"get", resource}
	if m := namespaceRe.FindStringSubmatch(question); m != nil {
		args = append(args, "-n", m[1])
	} else if resource != "nodes" && resource != "namespaces" {
		args = append(args, "-A")
	}

	if err := emit(ToolCallEvent("kubectl-get", map[string]interface{}{
		"cluster_id": clusterID,
		"args":       args[1:],
	})); err != nil {
		return err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	result, err := p.Dispatch(ctx, clusterID, models.CommandGet, args, timeout)
	if err != nil {
		return err
	}

	content := result.Stdout
	if !result.Success {
		content = result.Stderr
		if content == "" {
			content = fmt.Sprintf("command finished with status %s", result.Status)
		}
	}
	if err := emit(ToolResponseEvent(content)); err != nil {
		return err
	}

	if result.Success {
		if err := emit(ArtifactEvent("answer", Part{Kind: "text", Text: content})); err != nil {
			return err
		}
		return emit(StatusEvent(StateCompleted, "", true))
	}
	return emit(StatusEvent(StateFailed, fmt.Sprintf("inspection of cluster %s failed (%s)", clusterID, result.Status), true))
}

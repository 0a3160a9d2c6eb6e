package a2a

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/kubently/kubently/internal/models"
)

type dispatchCall struct {
	clusterID string
	cmdType   models.CommandType
	args      []string
}

func recordingDispatcher(calls *[]dispatchCall, result *models.Result) Dispatcher {
	return func(ctx context.Context, clusterID string, t models.CommandType, args []string, timeout time.Duration) (*models.Result, error) {
		*calls = append(*calls, dispatchCall{clusterID: clusterID, cmdType: t, args: args})
		return result, nil
	}
}

func collectEvents(t *testing.T, p Planner, text string) []Event {
	t.Helper()
	var events []Event
	msg := Message{Role: "user", Parts: []Part{{Kind: "text", Text: text}}}
	err := p.Plan(context.Background(), nil, msg, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	return events
}

func eventOfKind(events []Event, kind string) *Event {
	for i := range events {
		if events[i].Kind == kind {
			return &events[i]
		}
	}
	return nil
}

func TestPlanClusterQuestion(t *testing.T) {
	var calls []dispatchCall
	p := &RulePlanner{
		Dispatch: recordingDispatcher(&calls, &models.Result{
			Success: true, Stdout: "pod-a   Running", Status: models.StatusSuccess,
		}),
	}

	events := collectEvents(t, p, "what pods run in cluster kind?")

	if len(calls) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(calls))
	}
	if calls[0].clusterID != "kind" {
		t.Errorf("cluster = %q, want kind", calls[0].clusterID)
	}
	if !reflect.DeepEqual(calls[0].args, []string{"get", "pods", "-A"}) {
		t.Errorf("args = %v, want [get pods -A]", calls[0].args)
	}

	call := eventOfKind(events, KindToolCall)
	if call == nil {
		t.Fatal("no tool-call event emitted")
	}
	if call.Tool != "kubectl-get" {
		t.Errorf("tool = %q, want kubectl-get", call.Tool)
	}
	if call.Parameters["cluster_id"] != "kind" {
		t.Errorf("tool parameters = %v", call.Parameters)
	}

	if eventOfKind(events, KindToolResponse) == nil {
		t.Error("no tool-response event emitted")
	}
	artifact := eventOfKind(events, KindArtifactUpdate)
	if artifact == nil {
		t.Fatal("no artifact emitted")
	}
	if len(artifact.Parts) == 0 || artifact.Parts[0].Text != "pod-a   Running" {
		t.Errorf("artifact parts = %v", artifact.Parts)
	}

	last := events[len(events)-1]
	if last.Kind != KindStatusUpdate || last.State != StateCompleted || !last.Final {
		t.Errorf("last event = %+v, want final completed status", last)
	}
}

func TestPlanNamespaceScoping(t *testing.T) {
	var calls []dispatchCall
	p := &RulePlanner{
		Dispatch: recordingDispatcher(&calls, &models.Result{Success: true, Status: models.StatusSuccess}),
	}

	collectEvents(t, p, "list the deployments in namespace demo in cluster prod")

	if len(calls) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0].args, []string{"get", "deployments", "-n", "demo"}) {
		t.Errorf("args = %v, want namespace-scoped get", calls[0].args)
	}
}

func TestPlanUsesDefaultCluster(t *testing.T) {
	var calls []dispatchCall
	p := &RulePlanner{
		Dispatch:       recordingDispatcher(&calls, &models.Result{Success: true, Status: models.StatusSuccess}),
		DefaultCluster: "kind",
	}

	collectEvents(t, p, "any failing pods?")

	if len(calls) != 1 || calls[0].clusterID != "kind" {
		t.Errorf("calls = %+v, want one dispatch to the default cluster", calls)
	}
}

func TestPlanNoClusterFails(t *testing.T) {
	var calls []dispatchCall
	p := &RulePlanner{
		Dispatch: recordingDispatcher(&calls, nil),
	}

	events := collectEvents(t, p, "what pods are running?")

	if len(calls) != 0 {
		t.Errorf("dispatched %d commands, want 0", len(calls))
	}
	last := events[len(events)-1]
	if last.State != StateFailed || !last.Final {
		t.Errorf("last event = %+v, want final failed status", last)
	}
}

func TestPlanFailedCommand(t *testing.T) {
	var calls []dispatchCall
	p := &RulePlanner{
		Dispatch: recordingDispatcher(&calls, &models.Result{
			Success: false, Stderr: "error: the server doesn't have a resource type", Status: models.StatusFailed,
		}),
	}

	events := collectEvents(t, p, "show events in cluster kind")

	resp := eventOfKind(events, KindToolResponse)
	if resp == nil || resp.Content == "" {
		t.Error("failed command should still surface a tool-response with stderr")
	}
	last := events[len(events)-1]
	if last.State != StateFailed || !last.Final {
		t.Errorf("last event = %+v, want final failed status", last)
	}
	if eventOfKind(events, KindArtifactUpdate) != nil {
		t.Error("failed command should not produce an answer artifact")
	}
}

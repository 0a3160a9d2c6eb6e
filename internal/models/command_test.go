package models

import "testing"

func TestCommandTypeValid(t *testing.T) {
	for _, ct := range []CommandType{CommandGet, CommandDescribe, CommandLogs, CommandEvents, CommandTop, CommandVersion, CommandExplain} {
		if !ct.Valid() {
			t.Errorf("%s should be a valid command type", ct)
		}
	}
	for _, ct := range []CommandType{"", "destroy", "apply", "GET"} {
		if ct.Valid() {
			t.Errorf("%q should not be a valid command type", ct)
		}
	}
}

func TestVerbAllowed(t *testing.T) {
	if !CommandGet.VerbAllowed("get") {
		t.Error("get/get should be allowed")
	}
	if CommandGet.VerbAllowed("logs") {
		t.Error("get/logs should not be allowed")
	}
	// events accepts both the events verb and get (kubectl get events).
	if !CommandEvents.VerbAllowed("get") || !CommandEvents.VerbAllowed("events") {
		t.Error("events should allow both get and events verbs")
	}
	if CommandGet.VerbAllowed("delete") {
		t.Error("no command type may carry a mutating verb")
	}
}

func TestSyntheticResults(t *testing.T) {
	r := TimeoutResult("c1")
	if r.Status != StatusTimeout || r.Success || r.ReturnCode != -1 {
		t.Errorf("TimeoutResult() = %+v", r)
	}
	if r.CommandID != "c1" {
		t.Errorf("command_id = %q", r.CommandID)
	}

	c := CancelledResult("c2")
	if c.Status != StatusCancelled || c.Success || c.ReturnCode != -1 {
		t.Errorf("CancelledResult() = %+v", c)
	}
}

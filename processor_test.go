package kolog

import (
	"errors"
	"testing"
)

func TestCallsiteParamsKeepsOnlyRequested(t *testing.T) {
	ev := EventDict{
		"event":    "ev",
		"pathname": "/src/app.go",
		"filename": "app.go",
		"lineno":   "42",
		"funcName": "run",
		"module":   "app",
	}
	out, verdict, err := CallsiteParams([]string{"filename", "lineno"})(ev)
	if err != nil || verdict != Continue {
		t.Fatalf("Processor failed: verdict=%v err=%v", verdict, err)
	}
	if out["filename"] != "app.go" || out["lineno"] != "42" {
		t.Errorf("Requested keys removed: %v", out)
	}
	for _, gone := range []string{"pathname", "funcName", "module"} {
		if _, ok := out[gone]; ok {
			t.Errorf("Unrequested key %s survived", gone)
		}
	}
}

func TestContextDefaultsDoesNotOverwrite(t *testing.T) {
	proc := ContextDefaults(map[string]any{"env": "prod", "region": "eu"})
	out, _, err := proc(EventDict{"event": "ev", "env": "staging"})
	if err != nil {
		t.Fatalf("Processor failed: %v", err)
	}
	if out["env"] != "staging" {
		t.Errorf("Default overwrote an existing value: %v", out["env"])
	}
	if out["region"] != "eu" {
		t.Errorf("Missing default not added: %v", out)
	}
}

func TestErrorDetails(t *testing.T) {
	inner := errors.New("inner cause")
	outer := NewHandlerError("outer failure", "FileHandler", inner)

	out, _, err := ErrorDetails()(EventDict{"event": "ev", "exc_info": error(outer)})
	if err != nil {
		t.Fatalf("Processor failed: %v", err)
	}
	if _, ok := out["exc_info"]; ok {
		t.Errorf("Raw error left in the payload")
	}
	exc, ok := out["exception"].(map[string]any)
	if !ok {
		t.Fatalf("No structured exception: %v", out)
	}
	chain, _ := exc["chain"].([]string)
	if len(chain) != 2 {
		t.Errorf("Cause chain = %v, want outer and inner", chain)
	}
}

func TestErrorDetailsWithoutError(t *testing.T) {
	out, verdict, err := ErrorDetails()(EventDict{"event": "ev"})
	if err != nil || verdict != Continue {
		t.Fatalf("Processor failed on a clean payload: %v", err)
	}
	if _, ok := out["exception"]; ok {
		t.Errorf("Exception fabricated without a cause")
	}
}

func TestFilterByLevel(t *testing.T) {
	proc := FilterByLevel(LevelWarning)

	_, verdict, err := proc(EventDict{"event": "ev", "level": "INFO"})
	if err != nil {
		t.Fatalf("Processor failed: %v", err)
	}
	if verdict != Drop {
		t.Errorf("INFO passed a WARNING filter")
	}

	out, verdict, err := proc(EventDict{"event": "ev", "level": "ERROR"})
	if err != nil || verdict != Continue || out == nil {
		t.Errorf("ERROR blocked by a WARNING filter")
	}

	// A payload without a level is never filtered.
	_, verdict, _ = proc(EventDict{"event": "ev"})
	if verdict != Continue {
		t.Errorf("Level-less payload dropped")
	}
}

func TestFilterKeys(t *testing.T) {
	out, _, err := FilterKeys([]string{"password", "token"})(EventDict{
		"event":    "ev",
		"password": "hunter2",
		"user":     "alice",
	})
	if err != nil {
		t.Fatalf("Processor failed: %v", err)
	}
	if _, ok := out["password"]; ok {
		t.Errorf("Filtered key survived")
	}
	if out["user"] != "alice" {
		t.Errorf("Unrelated key removed")
	}
}

func TestFilterMarkup(t *testing.T) {
	out, _, err := FilterMarkup()(EventDict{
		"event": "[bold red]alert[/bold red] level [dim]low[/]",
	})
	if err != nil {
		t.Fatalf("Processor failed: %v", err)
	}
	if out["event"] != "alert level low" {
		t.Errorf("Markup left in event: %q", out["event"])
	}
}

func TestRunProcessorsDoesNotMutateInput(t *testing.T) {
	original := EventDict{"event": "ev", "secret": "s3cr3t"}
	out, verdict, err := runProcessors(
		[]Processor{FilterKeys([]string{"secret"})}, original, "Logger")
	if err != nil || verdict != Continue {
		t.Fatalf("Chain failed: verdict=%v err=%v", verdict, err)
	}
	if _, ok := out["secret"]; ok {
		t.Errorf("Chain output kept the filtered key")
	}
	if original["secret"] != "s3cr3t" {
		t.Errorf("Chain mutated the caller's payload")
	}
}

func TestRunProcessorsWrapsFailures(t *testing.T) {
	failing := func(ev EventDict) (EventDict, Verdict, error) {
		return nil, Continue, errors.New("step exploded")
	}
	_, _, err := runProcessors([]Processor{failing}, EventDict{"event": "ev"}, "Logger")
	if err == nil {
		t.Fatalf("Chain swallowed the failure")
	}
	ke, ok := AsError(err)
	if !ok || ke.Layer != LayerProcessor {
		t.Errorf("Failure not wrapped as a processor error: %v", err)
	}
}

func TestRunProcessorsShortCircuitsOnDrop(t *testing.T) {
	var reached bool
	after := func(ev EventDict) (EventDict, Verdict, error) {
		reached = true
		return ev, Continue, nil
	}
	_, verdict, err := runProcessors(
		[]Processor{FilterByLevel(LevelError), after},
		EventDict{"event": "ev", "level": "DEBUG"}, "Logger")
	if err != nil || verdict != Drop {
		t.Fatalf("Chain did not drop: verdict=%v err=%v", verdict, err)
	}
	if reached {
		t.Errorf("Steps after a drop still ran")
	}
}

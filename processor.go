package kolog

import (
	"fmt"
	"regexp"
)

// Verdict is the control outcome of one processor step. Drop is an ordinary,
// expected outcome distinct from an error: the event is silently discarded
// for the pipeline that observed it.
type Verdict int

const (
	// Continue passes the (possibly transformed) payload to the next step.
	Continue Verdict = iota
	// Drop discards the event for this pipeline only.
	Drop
)

// Processor is one transform/filter step over a payload. It returns the
// payload to hand to the next step, a verdict, and an error for unexpected
// failures. On Drop or error the returned payload is ignored.
type Processor func(ev EventDict) (EventDict, Verdict, error)

// callsiteKeys are the caller-metadata keys stamped on every payload.
var callsiteKeys = []string{"pathname", "filename", "lineno", "funcName", "module"}

// CallsiteParams keeps only the requested caller-metadata keys. All callsite
// keys are present on every payload; the ones not named are removed.
func CallsiteParams(keep []string) Processor {
	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	return func(ev EventDict) (EventDict, Verdict, error) {
		for _, key := range callsiteKeys {
			if !wanted[key] {
				delete(ev, key)
			}
		}
		return ev, Continue, nil
	}
}

// ContextDefaults adds default fields to every payload that does not already
// carry them.
func ContextDefaults(defaults map[string]any) Processor {
	return func(ev EventDict) (EventDict, Verdict, error) {
		for key, val := range defaults {
			if _, ok := ev[key]; !ok {
				ev[key] = val
			}
		}
		return ev, Continue, nil
	}
}

// ErrorDetails expands an error stored under "exc_info" into a structured
// "exception" map and removes the raw value so it never reaches a serializer.
func ErrorDetails() Processor {
	return func(ev EventDict) (EventDict, Verdict, error) {
		raw, ok := ev["exc_info"]
		delete(ev, "exc_info")
		if !ok || raw == nil {
			return ev, Continue, nil
		}
		err, ok := raw.(error)
		if !ok {
			return ev, Continue, nil
		}

		var chain []string
		for cause := err; cause != nil; {
			chain = append(chain, cause.Error())
			u, ok := cause.(interface{ Unwrap() error })
			if !ok {
				break
			}
			cause = u.Unwrap()
		}
		ev["exception"] = map[string]any{
			"type":    fmt.Sprintf("%T", err),
			"message": err.Error(),
			"chain":   chain,
		}
		return ev, Continue, nil
	}
}

// FilterByLevel drops events below the minimum level before formatting.
func FilterByLevel(min Level) Processor {
	return func(ev EventDict) (EventDict, Verdict, error) {
		lvl, ok := ev["level"]
		if !ok {
			return ev, Continue, nil
		}
		if levelValue(lvl) < min {
			return nil, Drop, nil
		}
		return ev, Continue, nil
	}
}

// FilterKeys removes specific keys from the payload. Useful for excluding
// sensitive data before it hits a destination.
func FilterKeys(remove []string) Processor {
	return func(ev EventDict) (EventDict, Verdict, error) {
		for _, key := range remove {
			delete(ev, key)
		}
		return ev, Continue, nil
	}
}

var markupPattern = regexp.MustCompile(`\[/?[^\]]*\]`)

// FilterMarkup strips [style] markup tags from the event message.
func FilterMarkup() Processor {
	return func(ev EventDict) (EventDict, Verdict, error) {
		if event, ok := ev["event"].(string); ok {
			ev["event"] = markupPattern.ReplaceAllString(event, "")
		}
		return ev, Continue, nil
	}
}

// runProcessors folds a payload through a chain, copying before the first
// step so the caller's map is never mutated. Drop short-circuits.
func runProcessors(procs []Processor, ev EventDict, service string) (EventDict, Verdict, error) {
	current := ev
	for _, proc := range procs {
		next, verdict, err := proc(current.clone())
		if err != nil {
			return nil, Continue, NewLoggerError(
				"failed to finish processing the message through the processor chain",
				service, err)
		}
		if verdict == Drop {
			return nil, Drop, nil
		}
		current = next
	}
	return current, Continue, nil
}

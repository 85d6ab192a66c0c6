package kolog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Renderer is the final payload-to-text transform. Each handler owns exactly
// one. Renderers may also gate on a minimum level, returning Drop.
type Renderer func(ev EventDict) (string, Verdict, error)

// Default layout and date format shared by the built-in renderers.
const (
	DefaultLayout  = "[{asctime}] [{level:-8}] {name}: {event}"
	DefaultDateFmt = "2006-01-02 15:04:05"
)

var layoutToken = regexp.MustCompile(`\{(\w+)(?::(-?\d+))?\}`)

// formatLayout substitutes {key} tokens from the payload. An optional width
// ({key:-8}) pads the value; negative widths pad on the right. The timestamp
// is consumed and re-exposed as "asctime" in datefmt.
func formatLayout(layout, datefmt string, ev EventDict) string {
	ts, ok := ev["timestamp"].(time.Time)
	if !ok {
		ts = time.Now().UTC()
	}
	delete(ev, "timestamp")
	ev["asctime"] = ts.Format(datefmt)

	return layoutToken.ReplaceAllStringFunc(layout, func(tok string) string {
		parts := layoutToken.FindStringSubmatch(tok)
		val, ok := ev[parts[1]]
		if !ok {
			return tok
		}
		text := fmt.Sprintf("%v", val)
		if parts[2] != "" {
			width, _ := strconv.Atoi(parts[2])
			if width < 0 {
				for len(text) < -width {
					text += " "
				}
			} else {
				for len(text) < width {
					text = " " + text
				}
			}
		}
		return text
	})
}

// belowLevel reports whether the event should be dropped by a renderer with
// the given minimum level. NOTSET never drops.
func belowLevel(min Level, ev EventDict) bool {
	if min == LevelNotset {
		return false
	}
	return levelValue(ev["level"]) < min
}

// PlainRenderer renders one formatted line per event.
func PlainRenderer(layout, datefmt string, min Level) Renderer {
	if layout == "" {
		layout = DefaultLayout
	}
	if datefmt == "" {
		datefmt = DefaultDateFmt
	}
	return func(ev EventDict) (string, Verdict, error) {
		if belowLevel(min, ev) {
			return "", Drop, nil
		}
		return formatLayout(layout, datefmt, ev), Continue, nil
	}
}

// JSONRenderer renders the formatted line followed by a newline-separated
// JSON block of the structured context, when the context is non-empty.
func JSONRenderer(layout, datefmt string, min Level, indent int, sortKeys bool) Renderer {
	if layout == "" {
		layout = DefaultLayout
	}
	if datefmt == "" {
		datefmt = DefaultDateFmt
	}
	return func(ev EventDict) (string, Verdict, error) {
		if belowLevel(min, ev) {
			return "", Drop, nil
		}
		line := formatLayout(layout, datefmt, ev)

		ctx, ok := ev["context"].(map[string]any)
		if !ok || len(ctx) == 0 {
			return line, Continue, nil
		}
		// encoding/json emits object keys sorted; sortKeys is accepted for
		// config compatibility but needs no extra work.
		_ = sortKeys
		var (
			data []byte
			err  error
		)
		if indent > 0 {
			data, err = json.MarshalIndent(jsonSafe(ctx), "", strings.Repeat(" ", indent))
		} else {
			data, err = json.Marshal(jsonSafe(ctx))
		}
		if err != nil {
			return "", Continue, NewProcessorError(
				"failed to serialize structured context", "JSONRenderer", err)
		}
		return line + ":\n" + string(data), Continue, nil
	}
}

// jsonSafe replaces values encoding/json cannot handle with their string
// form, mirroring a default=str serializer.
func jsonSafe(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch v.(type) {
		case nil, bool, string, int, int32, int64, uint, uint32, uint64,
			float32, float64, json.Marshaler:
			out[k] = v
		case error, fmt.Stringer, time.Time:
			out[k] = fmt.Sprintf("%v", v)
		default:
			if _, err := json.Marshal(v); err != nil {
				out[k] = fmt.Sprintf("%v", v)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// ANSI sequences for the colored renderer, keyed by level.
var levelColors = map[Level]string{
	LevelDebug:    "\x1b[36m", // cyan
	LevelInfo:     "\x1b[32m", // green
	LevelWarning:  "\x1b[33m", // yellow
	LevelError:    "\x1b[31m", // red
	LevelCritical: "\x1b[35m", // magenta
}

const colorReset = "\x1b[0m"

// ColoredRenderer renders the formatted line wrapped in a per-level ANSI
// color. Intended for terminal stream handlers; set noColor to fall back to
// plain output without reconfiguring.
func ColoredRenderer(layout, datefmt string, min Level, noColor bool) Renderer {
	plain := PlainRenderer(layout, datefmt, min)
	return func(ev EventDict) (string, Verdict, error) {
		lvl := levelValue(ev["level"])
		line, verdict, err := plain(ev)
		if verdict == Drop || err != nil {
			return "", verdict, err
		}
		color, ok := levelColors[lvl]
		if noColor || !ok {
			return line, Continue, nil
		}
		return color + line + colorReset, Continue, nil
	}
}

package daemon

import (
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

// parsedLine is one container log line after the runtime envelope (docker
// json-file or CRI) and, if present, the application's own JSON are peeled off.
type parsedLine struct {
	Message string
	Stream  string
	Level   logging.Level
	TraceID string
	SpanID  string
}

var parserPool fastjson.ParserPool

var (
	messageKeys = []string{"msg", "message"}
	levelKeys   = []string{"level", "severity", "status", "lvl"}
)

func parseLine(text string) parsedLine {
	p := parserPool.Get()
	defer parserPool.Put(p)

	line := parsedLine{Message: text, Stream: "stdout"}
	levelSet := false

	switch {
	case strings.HasPrefix(text, "{"):
		v, err := p.Parse(text)
		if err != nil {
			break
		}
		if v.Exists("log") {
			line.Message = strings.TrimRight(string(v.GetStringBytes("log")), "\n")
			if s := v.GetStringBytes("stream"); len(s) > 0 {
				line.Stream = string(s)
			}
		} else {
			levelSet = applyAppJSON(&line, v)
		}
	default:
		if msg, stream, ok := splitCRI(text); ok {
			line.Message = msg
			line.Stream = stream
		}
	}

	if !levelSet && strings.HasPrefix(line.Message, "{") {
		if v, err := p.Parse(line.Message); err == nil {
			levelSet = applyAppJSON(&line, v)
		}
	}

	if !levelSet {
		line.Level = logging.LevelInfo
		if line.Stream == "stderr" {
			line.Level = logging.LevelError
		}
	}
	return line
}

// splitCRI parses "<RFC3339 time> <stream> <P|F> <message>".
func splitCRI(text string) (msg, stream string, ok bool) {
	parts := strings.SplitN(text, " ", 4)
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[1] != "stdout" && parts[1] != "stderr" {
		return "", "", false
	}
	if _, err := time.Parse(time.RFC3339Nano, parts[0]); err != nil {
		return "", "", false
	}
	return parts[3], parts[1], true
}

// applyAppJSON reads well known fields from a structured application line
// and reports whether a level was found.
func applyAppJSON(line *parsedLine, v *fastjson.Value) bool {
	if v.Type() != fastjson.TypeObject {
		return false
	}
	for _, k := range messageKeys {
		if s := v.GetStringBytes(k); s != nil {
			line.Message = string(s)
			break
		}
	}

	line.TraceID = scalar(v, "dd.trace_id")
	if line.TraceID == "" {
		line.TraceID = scalar(v, "dd", "trace_id")
	}
	line.SpanID = scalar(v, "dd.span_id")
	if line.SpanID == "" {
		line.SpanID = scalar(v, "dd", "span_id")
	}

	for _, k := range levelKeys {
		raw := scalar(v, k)
		if raw == "" {
			continue
		}
		if lvl, err := logging.ParseLevel(raw); err == nil {
			line.Level = lvl
			return true
		}
	}
	return false
}

func scalar(v *fastjson.Value, keys ...string) string {
	f := v.Get(keys...)
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return string(f.GetStringBytes())
	case fastjson.TypeNumber:
		return string(f.MarshalTo(nil))
	default:
		return ""
	}
}

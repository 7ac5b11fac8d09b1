package daemon

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// lineFilter wraps a compiled CEL program deciding which lines are shipped.
// When disabled, Eval always returns true.
type lineFilter struct {
	prog    cel.Program
	enabled bool
}

func newLineFilter(expr string) (lineFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return lineFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("message", cel.StringType),
		cel.Variable("level", cel.StringType),
		cel.Variable("stream", cel.StringType),
		cel.Variable("namespace", cel.StringType),
		cel.Variable("pod", cel.StringType),
		cel.Variable("container", cel.StringType),
		cel.Variable("labels", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return lineFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return lineFilter{}, fmt.Errorf("invalid filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return lineFilter{}, fmt.Errorf("invalid filter %q: must evaluate to bool, got %v", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return lineFilter{}, err
	}
	return lineFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether the line should be shipped. Evaluation errors drop it.
func (f lineFilter) Eval(line parsedLine, labels map[string]string) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"message":   line.Message,
		"level":     line.Level.String(),
		"stream":    line.Stream,
		"namespace": labels["namespace"],
		"pod":       labels["pod"],
		"container": labels["container"],
		"labels":    labels,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

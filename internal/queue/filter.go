package queue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter narrows which pending messages an operation considers.
//
// Fields is an exact match against a message's full predicate-fields map
// and is served from the fingerprint index, so it never scans non-matching
// messages. Expr is an optional CEL expression applied only by ListPending,
// after the index narrows candidates; Peek and Claim ignore it.
type Filter struct {
	Fields map[string]string
	Expr   string
}

// exprFilter wraps a compiled CEL program. When disabled, Eval always
// returns true.
type exprFilter struct {
	prog    cel.Program
	enabled bool
}

func newExprFilter(expr string) (exprFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return exprFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("payload", cel.DynType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("attempts", cel.IntType),
		cel.Variable("published_ms", cel.IntType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return exprFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return exprFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return exprFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return exprFilter{}, err
	}
	return exprFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a message. Evaluation
// errors count as non-matches.
func (f exprFilter) Eval(m *Message) bool {
	if !f.enabled {
		return true
	}
	var payload any
	_ = json.Unmarshal(m.Payload, &payload)
	fields := m.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"payload":      payload,
		"fields":       fields,
		"attempts":     int64(m.Attempts),
		"published_ms": m.PublishedAtMs,
		"now_ms":       time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

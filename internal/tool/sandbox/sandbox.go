// Package sandbox implements the sandboxed code-runner tool: a
// whitelisted-builtins expression evaluator bounded by a hard wall-clock
// timeout and a token-bucket rate limiter (§5 resource model). No
// third-party scripting engine appears anywhere in the retrieval pack
// for this concern (see DESIGN.md), so this is a small stdlib evaluator
// restricted to a closed builtin function set — it never gains access to
// os/exec or net, by construction. Grounded on
// _examples/original_source/src/mcp_tools/code_execution_tools.py's
// "execute_python_code" tool: the Go evaluator keeps that tool's
// input_data/result shape (an input bound as a `data` variable, an
// expression value returned as the result) and its three whitelisted
// library surfaces (math, datetime, json), expressed as a single
// expression rather than an exec'd statement block — see DESIGN.md for
// why full statement/loop execution has no safe Go counterpart.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowmind/orchestrator/internal/tool"
)

// Source discovers the single sandboxed code-runner tool.
type Source struct {
	wallClockLimit time.Duration
	limiter        *rate.Limiter
}

// New builds a Source. wallClockLimit bounds every Execute call
// regardless of the caller's context; it defaults to 30s.
func New(wallClockLimit time.Duration) *Source {
	if wallClockLimit <= 0 {
		wallClockLimit = 30 * time.Second
	}
	return &Source{
		wallClockLimit: wallClockLimit,
		limiter:        rate.NewLimiter(rate.Limit(2), 4),
	}
}

func (s *Source) Name() string { return "sandbox" }

func (s *Source) Discover(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{&runnerTool{limiter: s.limiter, wallClockLimit: s.wallClockLimit}}, nil
}

type runnerTool struct {
	limiter        *rate.Limiter
	wallClockLimit time.Duration
}

func (t *runnerTool) Info() tool.Info {
	return tool.Info{
		Name: "run_expression",
		Description: "Evaluate a single expression using a whitelisted set of " +
			"arithmetic, comparison, math, date and JSON helpers. An optional " +
			"input_data object is bound to the `data` variable. No file, " +
			"network or process access is available.",
		Repository: "sandbox",
		Parameters: []tool.Parameter{
			{Name: "expression", Type: "string", Description: "Expression to evaluate, e.g. \"sum(data[\\\"prices\\\"]) * 1.2\"", Required: true},
			{Name: "input_data", Type: "object", Description: "Optional object bound to the `data` variable", Required: false},
		},
	}
}

func (t *runnerTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	expr, _ := args["expression"].(string)
	if expr == "" {
		return tool.Result{}, fmt.Errorf("run_expression: expression is required")
	}
	inputData, _ := args["input_data"].(map[string]interface{})

	if err := t.limiter.Wait(ctx); err != nil {
		return tool.Result{}, fmt.Errorf("run_expression: rate limited: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.wallClockLimit)
	defer cancel()

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := evaluate(expr, inputData)
		done <- outcome{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return tool.Result{}, fmt.Errorf("run_expression: wall-clock limit (%s) exceeded", t.wallClockLimit)
	case o := <-done:
		if o.err != nil {
			return tool.Result{IsError: true, Content: o.err.Error()}, nil
		}
		return tool.Result{Content: formatResult(o.val)}, nil
	}
}

// formatResult mirrors the original tool's "try JSON, fall back to str"
// response formatting for simple vs. compound result types.
func formatResult(v interface{}) string {
	switch v.(type) {
	case []interface{}, map[string]interface{}:
		b, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%v", v)
}

// evaluate parses expr as a Go expression and walks the resulting AST,
// only permitting literals, parentheses, unary/binary operators, index
// expressions and calls to the builtin table — nothing else in the AST
// is ever executed. inputData is bound as the identifier "data".
func evaluate(expr string, inputData map[string]interface{}) (interface{}, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	env := map[string]interface{}{
		"data": toInterfaceMap(inputData),
		"true": true, "false": false,
	}
	return evalNode(node, env)
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func evalNode(n ast.Expr, env map[string]interface{}) (interface{}, error) {
	switch e := n.(type) {
	case *ast.BasicLit:
		switch e.Kind {
		case token.INT, token.FLOAT:
			var v float64
			if _, err := fmt.Sscanf(e.Value, "%g", &v); err != nil {
				return nil, fmt.Errorf("invalid number %q", e.Value)
			}
			return v, nil
		case token.STRING:
			s, err := parseStringLit(e.Value)
			if err != nil {
				return nil, err
			}
			return s, nil
		default:
			return nil, fmt.Errorf("unsupported literal %q", e.Value)
		}
	case *ast.Ident:
		v, ok := env[e.Name]
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q", e.Name)
		}
		return v, nil
	case *ast.ParenExpr:
		return evalNode(e.X, env)
	case *ast.UnaryExpr:
		v, err := evalNode(e.X, env)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.SUB:
			f, err := asFloat(v)
			if err != nil {
				return nil, err
			}
			return -f, nil
		case token.ADD:
			return v, nil
		case token.NOT:
			b, err := asBool(v)
			if err != nil {
				return nil, err
			}
			return !b, nil
		default:
			return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
		}
	case *ast.BinaryExpr:
		return evalBinary(e, env)
	case *ast.IndexExpr:
		container, err := evalNode(e.X, env)
		if err != nil {
			return nil, err
		}
		index, err := evalNode(e.Index, env)
		if err != nil {
			return nil, err
		}
		return indexInto(container, index)
	case *ast.CallExpr:
		ident, ok := e.Fun.(*ast.Ident)
		if !ok {
			return nil, fmt.Errorf("unsupported call target")
		}
		fn, ok := builtins[ident.Name]
		if !ok {
			return nil, fmt.Errorf("function %q is not permitted", ident.Name)
		}
		args := make([]interface{}, len(e.Args))
		for i, a := range e.Args {
			v, err := evalNode(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fn(args)
	default:
		return nil, fmt.Errorf("unsupported expression")
	}
}

func parseStringLit(raw string) (string, error) {
	var s string
	if _, err := fmt.Sscanf(raw, "%q", &s); err != nil {
		return "", fmt.Errorf("invalid string literal %q", raw)
	}
	return s, nil
}

func indexInto(container, index interface{}) (interface{}, error) {
	switch c := container.(type) {
	case map[string]interface{}:
		key, ok := index.(string)
		if !ok {
			return nil, fmt.Errorf("map index must be a string")
		}
		v, ok := c[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		return v, nil
	case []interface{}:
		f, err := asFloat(index)
		if err != nil {
			return nil, err
		}
		i := int(f)
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("index %d out of range", i)
		}
		return c[i], nil
	default:
		return nil, fmt.Errorf("cannot index value of type %T", container)
	}
}

func evalBinary(e *ast.BinaryExpr, env map[string]interface{}) (interface{}, error) {
	left, err := evalNode(e.X, env)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(e.Y, env)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case token.LAND:
		lb, err := asBool(left)
		if err != nil {
			return nil, err
		}
		rb, err := asBool(right)
		if err != nil {
			return nil, err
		}
		return lb && rb, nil
	case token.LOR:
		lb, err := asBool(left)
		if err != nil {
			return nil, err
		}
		rb, err := asBool(right)
		if err != nil {
			return nil, err
		}
		return lb || rb, nil
	case token.EQL:
		return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right), nil
	case token.NEQ:
		return fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right), nil
	}

	// Strings only support concatenation and comparison.
	if ls, ok := left.(string); ok {
		rs, rok := right.(string)
		if !rok {
			return nil, fmt.Errorf("cannot combine string with non-string")
		}
		switch e.Op {
		case token.ADD:
			return ls + rs, nil
		case token.LSS:
			return ls < rs, nil
		case token.LEQ:
			return ls <= rs, nil
		case token.GTR:
			return ls > rs, nil
		case token.GEQ:
			return ls >= rs, nil
		default:
			return nil, fmt.Errorf("unsupported string operator %s", e.Op)
		}
	}

	lf, err := asFloat(left)
	if err != nil {
		return nil, err
	}
	rf, err := asFloat(right)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case token.ADD:
		return lf + rf, nil
	case token.SUB:
		return lf - rf, nil
	case token.MUL:
		return lf * rf, nil
	case token.QUO:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case token.REM:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	case token.LSS:
		return lf < rf, nil
	case token.LEQ:
		return lf <= rf, nil
	case token.GTR:
		return lf > rf, nil
	case token.GEQ:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("unsupported operator %s", e.Op)
	}
}

func asFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func asBool(v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func asList(v interface{}) ([]interface{}, error) {
	l, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	return l, nil
}

// builtins is the closed set of callable names available to an
// expression, covering the math/datetime/json surfaces the original
// tool's safe_globals whitelisted (see package doc).
var builtins = map[string]func([]interface{}) (interface{}, error){
	"sqrt":  unaryMath(math.Sqrt),
	"abs":   unaryMath(math.Abs),
	"floor": unaryMath(math.Floor),
	"ceil":  unaryMath(math.Ceil),
	"log":   unaryMath(math.Log),
	"exp":   unaryMath(math.Exp),
	"round": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("round takes exactly one argument")
		}
		f, err := asFloat(args[0])
		if err != nil {
			return nil, err
		}
		return math.Round(f), nil
	},
	"pow": func(args []interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("pow takes exactly two arguments")
		}
		base, err := asFloat(args[0])
		if err != nil {
			return nil, err
		}
		exp, err := asFloat(args[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(base, exp), nil
	},
	"min": func(args []interface{}) (interface{}, error) { return reduceFloats(args, math.Min) },
	"max": func(args []interface{}) (interface{}, error) { return reduceFloats(args, math.Max) },
	"sum": func(args []interface{}) (interface{}, error) {
		list, err := listArg(args)
		if err != nil {
			return nil, err
		}
		var total float64
		for _, v := range list {
			f, err := asFloat(v)
			if err != nil {
				return nil, err
			}
			total += f
		}
		return total, nil
	},
	"len": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes exactly one argument")
		}
		switch v := args[0].(type) {
		case []interface{}:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		case string:
			return float64(len(v)), nil
		default:
			return nil, fmt.Errorf("len: unsupported type %T", v)
		}
	},
	"sorted": func(args []interface{}) (interface{}, error) {
		list, err := listArg(args)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(list))
		copy(out, list)
		sort.Slice(out, func(i, j int) bool {
			fi, erri := asFloat(out[i])
			fj, errj := asFloat(out[j])
			if erri == nil && errj == nil {
				return fi < fj
			}
			return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
		})
		return out, nil
	},
	"str": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("str takes exactly one argument")
		}
		return fmt.Sprintf("%v", args[0]), nil
	},
	"json_encode": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("json_encode takes exactly one argument")
		}
		b, err := json.Marshal(args[0])
		if err != nil {
			return nil, fmt.Errorf("json_encode: %w", err)
		}
		return string(b), nil
	},
	"json_decode": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("json_decode takes exactly one argument")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("json_decode: argument must be a string")
		}
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("json_decode: %w", err)
		}
		return normalizeJSON(v), nil
	},
	"now": func(args []interface{}) (interface{}, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("now takes no arguments")
		}
		return time.Now().UTC().Format(time.RFC3339), nil
	},
	"parse_date": func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("parse_date takes exactly one argument")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("parse_date: argument must be a string")
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("parse_date: %w", err)
		}
		return t.Format("2006-01-02"), nil
	},
	"date_add": func(args []interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("date_add takes exactly two arguments (date, days)")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("date_add: first argument must be a string")
		}
		days, err := asFloat(args[1])
		if err != nil {
			return nil, err
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("date_add: %w", err)
		}
		return t.AddDate(0, 0, int(days)).Format("2006-01-02"), nil
	},
	"date_diff": func(args []interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("date_diff takes exactly two arguments")
		}
		a, aok := args[0].(string)
		b, bok := args[1].(string)
		if !aok || !bok {
			return nil, fmt.Errorf("date_diff: both arguments must be strings")
		}
		ta, err := time.Parse("2006-01-02", a)
		if err != nil {
			return nil, fmt.Errorf("date_diff: %w", err)
		}
		tb, err := time.Parse("2006-01-02", b)
		if err != nil {
			return nil, fmt.Errorf("date_diff: %w", err)
		}
		return ta.Sub(tb).Hours() / 24, nil
	},
}

func unaryMath(f func(float64) float64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("function takes exactly one argument")
		}
		v, err := asFloat(args[0])
		if err != nil {
			return nil, err
		}
		return f(v), nil
	}
}

func reduceFloats(args []interface{}, combine func(a, b float64) float64) (interface{}, error) {
	var values []interface{}
	if len(args) == 1 {
		list, err := asList(args[0])
		if err == nil {
			values = list
		}
	}
	if values == nil {
		values = args
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("expected at least one argument")
	}
	result, err := asFloat(values[0])
	if err != nil {
		return nil, err
	}
	for _, v := range values[1:] {
		f, err := asFloat(v)
		if err != nil {
			return nil, err
		}
		result = combine(result, f)
	}
	return result, nil
}

func listArg(args []interface{}) ([]interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one list argument")
	}
	return asList(args[0])
}

// normalizeJSON coerces encoding/json's float64/string/bool/[]interface{}/
// map[string]interface{} decode shape, which already matches this
// evaluator's value representation, returning v unchanged.
func normalizeJSON(v interface{}) interface{} { return v }

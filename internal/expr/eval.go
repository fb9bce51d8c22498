package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Context supplies path lookups during evaluation, e.g. {event, directive,
// cost, limits, permissions} (spec.md §4.15).
type Context map[string]any

// Eval evaluates e against ctx. A missing dotted path resolves to nil
// rather than erroring (spec.md §4.13).
func (e *Expr) Eval(ctx Context) (any, error) {
	return evalNode(e.root, ctx)
}

// EvalBool evaluates e and coerces the result to bool via truthiness.
func (e *Expr) EvalBool(ctx Context) (bool, error) {
	v, err := e.Eval(ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func evalNode(n node, ctx Context) (any, error) {
	switch v := n.(type) {
	case literalNode:
		return v.value, nil
	case pathNode:
		return resolvePath(ctx, v.path), nil
	case unaryNode:
		operand, err := evalNode(v.expr, ctx)
		if err != nil {
			return nil, err
		}
		switch v.op {
		case "not":
			return !truthy(operand), nil
		case "-":
			f, ok := asNumber(operand)
			if !ok {
				return nil, fmt.Errorf("expr: cannot negate non-numeric value")
			}
			return -f, nil
		}
		return nil, fmt.Errorf("expr: unknown unary operator %q", v.op)
	case binaryNode:
		return evalBinary(v, ctx)
	}
	return nil, fmt.Errorf("expr: unknown node type")
}

func evalBinary(b binaryNode, ctx Context) (any, error) {
	switch b.op {
	case "and":
		left, err := evalNode(b.left, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := evalNode(b.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "or":
		left, err := evalNode(b.left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := evalNode(b.right, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := evalNode(b.left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(b.right, ctx)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	case "<", ">", "<=", ">=":
		return compareValues(b.op, left, right)
	case "in", "not in":
		found := containsValue(right, left)
		if b.op == "not in" {
			return !found, nil
		}
		return found, nil
	case "+", "-", "*", "/":
		return arithmetic(b.op, left, right)
	}
	return nil, fmt.Errorf("expr: unknown binary operator %q", b.op)
}

// resolvePath looks up a dotted path (e.g. "event.detail.missing") inside
// ctx using gjson, so hook `when` expressions and `${...}` templates get
// gjson's full path grammar (array indices, `#` counts, wildcards) for
// free rather than a plain-dot walk. A missing path resolves to nil
// (spec.md §4.13), matching gjson's own "not found" semantics.
func resolvePath(ctx Context, path string) any {
	data, err := json.Marshal(map[string]any(ctx))
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func equalValues(a, b any) bool {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareValues(op string, a, b any) (bool, error) {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf, nil
		case ">":
			return af > bf, nil
		case "<=":
			return af <= bf, nil
		case ">=":
			return af >= bf, nil
		}
	}
	as, asok := a.(string)
	bs, bsok := b.(string)
	if asok && bsok {
		switch op {
		case "<":
			return as < bs, nil
		case ">":
			return as > bs, nil
		case "<=":
			return as <= bs, nil
		case ">=":
			return as >= bs, nil
		}
	}
	return false, fmt.Errorf("expr: cannot compare %T and %T with %s", a, b, op)
}

func containsValue(container, target any) bool {
	switch c := container.(type) {
	case []any:
		for _, item := range c {
			if equalValues(item, target) {
				return true
			}
		}
		return false
	case string:
		target, ok := target.(string)
		if !ok {
			return false
		}
		return strings.Contains(c, target)
	default:
		return false
	}
}

func arithmetic(op string, a, b any) (any, error) {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if op == "+" {
		as, asok := a.(string)
		bs, bsok := b.(string)
		if asok && bsok {
			return as + bs, nil
		}
	}
	if !aok || !bok {
		return nil, fmt.Errorf("expr: arithmetic operator %s requires numeric operands", op)
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, fmt.Errorf("expr: division by zero")
		}
		return af / bf, nil
	}
	return nil, fmt.Errorf("expr: unknown arithmetic operator %q", op)
}

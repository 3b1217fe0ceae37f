package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// evalCondition evaluates a condition expression and returns its value
// together with the canonical ids it referenced. The lookup resolves ids to
// already-materialized values: inputs always, plus scalar artifact fields
// when the caller provides them. Supported forms are a single operand
// (truthiness) or a binary comparison:
//
//	Input:SegmentCount > 0
//	Input:ImageProducer.style == "anime"
//	Artifact:DocProducer.Plan.Format == "vertical"
//
// Operands are canonical ids, quoted strings, numbers, or booleans.
func evalCondition(expr string, lookup func(id string) (any, bool)) (bool, []string, error) {
	fields := strings.Fields(expr)
	var deps []string

	switch len(fields) {
	case 1:
		v, d, err := operand(fields[0], lookup)
		if err != nil {
			return false, nil, err
		}
		deps = append(deps, d...)
		return truthy(v), deps, nil

	case 3:
		lhs, d, err := operand(fields[0], lookup)
		if err != nil {
			return false, nil, err
		}
		deps = append(deps, d...)
		rhs, d, err := operand(fields[2], lookup)
		if err != nil {
			return false, nil, err
		}
		deps = append(deps, d...)

		ok, err := compare(fields[1], lhs, rhs)
		if err != nil {
			return false, nil, fmt.Errorf("condition %q: %w", expr, err)
		}
		return ok, deps, nil

	default:
		return false, nil, fmt.Errorf("condition %q: expected <operand> or <lhs> <op> <rhs>", expr)
	}
}

// operand resolves one token to a value; canonical ids go through the lookup
// and are reported as dependencies. An id the lookup cannot resolve yields
// nil.
func operand(token string, lookup func(id string) (any, bool)) (any, []string, error) {
	if strings.Contains(token, ":") {
		v, _ := lookup(token)
		return v, []string{token}, nil
	}
	if len(token) >= 2 {
		if (token[0] == '\'' && token[len(token)-1] == '\'') ||
			(token[0] == '"' && token[len(token)-1] == '"') {
			return token[1 : len(token)-1], nil, nil
		}
	}
	switch token {
	case "true":
		return true, nil, nil
	case "false":
		return false, nil, nil
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n, nil, nil
	}
	return nil, nil, fmt.Errorf("condition operand %q is not an id, literal, or number", token)
}

func compare(op string, lhs, rhs any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(lhs, rhs), nil
	case "!=":
		return !looseEqual(lhs, rhs), nil
	}

	ln, lok := asNumber(lhs)
	rn, rok := asNumber(rhs)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s needs numeric operands", op)
	}
	switch op {
	case "<":
		return ln < rn, nil
	case "<=":
		return ln <= rn, nil
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// looseEqual compares numerically when both sides are numbers, otherwise by
// string form, so YAML's 3 equals JSON's 3.0 and "anime" equals anime.
func looseEqual(lhs, rhs any) bool {
	if ln, ok := asNumber(lhs); ok {
		if rn, ok := asNumber(rhs); ok {
			return ln == rn
		}
	}
	return fmt.Sprint(lhs) == fmt.Sprint(rhs)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if n, ok := asNumber(v); ok {
			return n != 0
		}
		return true
	}
}

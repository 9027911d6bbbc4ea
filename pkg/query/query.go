/*
Package query implements the predicate evaluator described in spec §4.5:
a fixed operator vocabulary over dotted field paths, plus the reserved
top-level $limit. Evaluation is pure (Match takes a decoded Document and
a predicate, both already in memory); the caller (pkg/mtdb) drives the
btree iteration, lazy decode, and limit bookkeeping so the engine never
materialises the whole keyspace.

Beyond the spec's table, $all (array superset) and $regex (string match)
are added per SPEC_FULL.md §4.5 as additive operators layered on the same
dispatch -- they never change the behavior of predicates that don't use them.
*/
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/codec"
)

// LimitField is the reserved top-level predicate key bounding result count.
const LimitField = "$limit"

// Predicate is a Document-shaped map of dotted field paths (or $limit) to
// either a scalar (implicit equals) or an operator object.
type Predicate map[string]any

// Limit returns the predicate's $limit, or 0 if unset/invalid (no bound).
func Limit(pred Predicate) int {
	v, ok := pred[LimitField]
	if !ok {
		return 0
	}
	f, ok := codec.AsFloat64(v)
	if !ok || f <= 0 {
		return 0
	}
	return int(f)
}

var regexCache = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCache.Lock()
	defer regexCache.Unlock()
	if re, ok := regexCache.m[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.m[pattern] = re
	return re, nil
}

// Match reports whether doc satisfies pred. Multiple fields are
// conjunctive. $limit is ignored here; it is a post-evaluation bound the
// caller applies across the result stream.
func Match(doc codec.Document, pred Predicate) bool {
	for field, operand := range pred {
		if field == LimitField {
			continue
		}
		if !matchField(doc, field, operand) {
			return false
		}
	}
	return true
}

func matchField(doc codec.Document, field string, operand any) bool {
	ops, isOps := operand.(map[string]any)
	if !isOps {
		// implicit equals
		val, ok := codec.FieldAt(doc, field)
		return ok && equalValue(val, operand)
	}

	for op, arg := range ops {
		if !matchOperator(doc, field, op, arg) {
			return false
		}
	}
	return true
}

func matchOperator(doc codec.Document, field, op string, arg any) bool {
	val, exists := codec.FieldAt(doc, field)

	switch op {
	case "$eq":
		return exists && equalValue(val, arg)
	case "$ne":
		if !exists {
			return true
		}
		return !equalValue(val, arg)
	case "$gt", "$gte", "$lt", "$lte":
		if !exists {
			return false
		}
		fv, ok1 := numericOperand(val)
		av, ok2 := numericOperand(arg)
		if !ok1 || !ok2 {
			return false
		}
		switch op {
		case "$gt":
			return fv > av
		case "$gte":
			return fv >= av
		case "$lt":
			return fv < av
		default:
			return fv <= av
		}
	case "$in":
		if !exists {
			return false
		}
		arr, ok := arg.([]any)
		if !ok {
			return false
		}
		for _, item := range arr {
			if equalValue(val, item) {
				return true
			}
		}
		return false
	case "$all":
		if !exists {
			return false
		}
		wanted, ok := arg.([]any)
		if !ok {
			return false
		}
		haystack, ok := val.([]any)
		if !ok {
			return false
		}
		for _, w := range wanted {
			found := false
			for _, h := range haystack {
				if equalValue(h, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "$contains":
		if !exists {
			return false
		}
		switch v := val.(type) {
		case []any:
			for _, item := range v {
				if equalValue(item, arg) {
					return true
				}
			}
			return false
		case string:
			s, ok := arg.(string)
			if !ok {
				return false
			}
			return strings.Contains(v, s)
		default:
			return false
		}
	case "$regex":
		if !exists {
			return false
		}
		s, ok := val.(string)
		if !ok {
			return false
		}
		pattern, ok := arg.(string)
		if !ok {
			return false
		}
		re, err := compileRegex(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false
		}
		return exists == want
	default:
		return false
	}
}

// numericOperand restricts comparison operators to genuine JSON numbers:
// unlike codec.AsFloat64, it never coerces a numeric-looking string, so a
// string field fails $gt/$gte/$lt/$lte/$eq against a number instead of
// silently matching it (spec §4.5/§9: a type-mismatched field fails the
// predicate rather than being coerced).
func numericOperand(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValue(a, b any) bool {
	af, aok := numericOperand(a)
	bf, bok := numericOperand(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) && sameKind(a, b)
}

// sameKind guards equalValue's fallback string comparison against
// cross-type coincidences (e.g. the string "true" vs the bool true).
func sameKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case nil:
		return b == nil
	default:
		return true
	}
}

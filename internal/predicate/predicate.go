// Package predicate holds the boolean nodes a campaign's eligibility is
// built from. A node only sees a flat variable map, so it knows nothing
// about campaigns or exchanges.
package predicate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the variable set a node is evaluated against.
type Env = map[string]any

var ErrUnknownDimension = errors.New("unknown dimension")

// Node is one eligibility check. Implementations must be safe for
// concurrent use.
type Node interface {
	Test(env Env) (bool, error)
	String() string
}

// Rule includes or excludes a set of values on one dimension.
// An empty value list matches everything.
type Rule struct {
	Dimension   string
	IsInclusion bool
	Values      []string
}

// NewRule canonicalizes the dimension name and trims values.
func NewRule(dimension string, include bool, values ...string) Rule {
	vals := make([]string, 0, len(values))
	for _, v := range values {
		vals = append(vals, strings.TrimSpace(v))
	}
	return Rule{
		Dimension:   strings.ToLower(strings.TrimSpace(dimension)),
		IsInclusion: include,
		Values:      vals,
	}
}

func (r Rule) Test(env Env) (bool, error) {
	raw, ok := env[r.Dimension]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownDimension, r.Dimension)
	}
	if len(r.Values) == 0 {
		return true, nil
	}
	val := fmt.Sprint(raw)
	found := false
	for _, v := range r.Values {
		if strings.EqualFold(v, val) {
			found = true
			break
		}
	}
	if r.IsInclusion {
		return found, nil
	}
	return !found, nil
}

func (r Rule) String() string {
	op := "in"
	if !r.IsInclusion {
		op = "not in"
	}
	return fmt.Sprintf("%s %s %v", r.Dimension, op, r.Values)
}

// Expr is a compiled expr-lang boolean expression.
type Expr struct {
	src     string
	program *vm.Program
}

// NewExpr compiles src against the variables present in sample. The
// expression must produce a bool.
func NewExpr(src string, sample Env) (*Expr, error) {
	program, err := expr.Compile(src, expr.Env(sample), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Expr{src: src, program: program}, nil
}

func (e *Expr) Test(env Env) (bool, error) {
	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", e.src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result is %T, not bool", e.src, out)
	}
	return b, nil
}

func (e *Expr) String() string { return e.src }

// All reports whether every node passes. It stops at the first failing
// node and returns it so callers can say which check rejected the request.
func All(nodes []Node, env Env) (bool, Node, error) {
	for _, n := range nodes {
		ok, err := n.Test(env)
		if err != nil {
			return false, n, err
		}
		if !ok {
			return false, n, nil
		}
	}
	return true, nil, nil
}

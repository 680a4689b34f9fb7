// Package expressions evaluates condition expressions against execution scope data.
package expressions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrEmptyExpression is returned when an expression is blank.
var ErrEmptyExpression = errors.New("empty expression")

// Engine compiles and evaluates expr-lang expressions. Compiled programs
// are cached and reused across goroutines.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewEngine() *Engine {
	return &Engine{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate runs an expression with the data map as its environment, making
// all keys available as top-level variables.
func (e *Engine) Evaluate(expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, fmt.Errorf("expression %q failed: %w", expression, err)
	}

	return out, nil
}

// EvaluateBool evaluates an expression and coerces the result to a boolean.
func (e *Engine) EvaluateBool(expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(expression, data)
	if err != nil {
		return false, err
	}

	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression %q evaluated to %T, expected boolean", expression, out)
	}
}

func (e *Engine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expression %q is invalid: %w", expression, err)
	}

	e.cache[expression] = prg

	return prg, nil
}

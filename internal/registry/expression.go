package registry

import (
	"fmt"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/lintscale"
)

// When expressions gate a tool on workspace facts, e.g.
//
//	has_language('python') && file_count > 0
//	sensitivity >= 2 || has_config('mypy.ini')
//
// Variables: sensitivity, file_count, language_count.
// Functions: has_language, has_extension, has_config, has_file, plus any registered extras.

var (
	extraFuncsMu sync.RWMutex
	extraFuncs   = make(map[string]govaluate.ExpressionFunction)
)

// RegisterExpressionFunction adds a custom function usable in when expressions.
// Fact-bound builtins cannot be overridden.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	extraFuncsMu.Lock()
	defer extraFuncsMu.Unlock()
	extraFuncs[name] = fn
}

// factFunctions returns the whitelisted function set bound to facts.
func factFunctions(facts lintscale.WorkspaceFacts) map[string]govaluate.ExpressionFunction {
	funcs := make(map[string]govaluate.ExpressionFunction)
	extraFuncsMu.RLock()
	for k, v := range extraFuncs {
		funcs[k] = v
	}
	extraFuncsMu.RUnlock()

	funcs["has_language"] = stringPredicate("has_language", facts.HasLanguage)
	funcs["has_extension"] = stringPredicate("has_extension", facts.HasExtension)
	funcs["has_config"] = stringPredicate("has_config", facts.HasConfig)
	funcs["has_file"] = stringPredicate("has_file", facts.HasFile)
	return funcs
}

func stringPredicate(name string, pred func(string) bool) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s expects a string, got %T", name, args[0])
		}
		return pred(s), nil
	}
}

// ValidateExpression checks that expr parses against the whitelisted function set.
func ValidateExpression(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, factFunctions(lintscale.WorkspaceFacts{}))
	return err
}

// EvaluateWhen evaluates a tool's when expression against facts and sensitivity.
// An empty expression is true. Non-boolean results are errors.
func EvaluateWhen(expr string, facts lintscale.WorkspaceFacts, sensitivity lintscale.Sensitivity) (bool, error) {
	if expr == "" {
		return true, nil
	}
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(expr, factFunctions(facts))
	if err != nil {
		return false, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}
	result, err := compiled.Evaluate(map[string]interface{}{
		"sensitivity":    float64(sensitivity),
		"file_count":     float64(len(facts.Files)),
		"language_count": float64(len(facts.Languages)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, want bool", expr, result)
	}
	return b, nil
}

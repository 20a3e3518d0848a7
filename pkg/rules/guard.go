package rules

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/Zerofisher/haestore/pkg/extract"
)

// Env is the environment a rule's `when` expression is evaluated against.
type Env struct {
	Host      string `expr:"host"`
	Direction string `expr:"direction"`
	Size      int    `expr:"size"`
	Body      string `expr:"body"`
}

func newEnv(host string, dir extract.Direction, payload []byte) Env {
	return Env{
		Host:      host,
		Direction: string(dir),
		Size:      len(payload),
		Body:      string(payload),
	}
}

// CompileGuard compiles a boolean `when` expression. An empty expression
// always passes.
func CompileGuard(src string) (func(Env) bool, error) {
	if src == "" {
		return func(Env) bool { return true }, nil
	}

	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile guard '%s': %w", src, err)
	}

	return func(env Env) bool {
		result, err := expr.Run(program, env)
		if err != nil {
			return false
		}
		b, ok := result.(bool)
		return ok && b
	}, nil
}

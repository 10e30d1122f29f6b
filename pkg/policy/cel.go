package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// exprEnv compiles rule expressions over the verification inputs.
type exprEnv struct {
	env *cel.Env
}

func newExprEnv() (*exprEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("is_valid", cel.BoolType),
		cel.Variable("confidence_score", cel.DoubleType),
		cel.Variable("threat_level", cel.StringType),
		cel.Variable("detected_threats", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return &exprEnv{env: env}, nil
}

func (e *exprEnv) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("compile: expression must be bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

func evalBool(prg cel.Program, in evalInput) (bool, error) {
	out, _, err := prg.Eval(map[string]any{
		"is_valid":         in.isValid,
		"confidence_score": in.confidence,
		"threat_level":     string(in.threatLevel),
		"detected_threats": in.threats,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval: result not bool")
	}
	return v, nil
}

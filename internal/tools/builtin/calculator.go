package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/tools"
)

// Calculator evaluates arithmetic expressions. Expressions are parsed with
// the Go parser and walked directly, so only literals and the basic
// operators can ever execute.
type Calculator struct{}

// NewCalculator creates the calculator tool.
func NewCalculator() *Calculator {
	return &Calculator{}
}

func (t *Calculator) Name() string        { return "calculator" }
func (t *Calculator) Version() string     { return "1.0.0" }
func (t *Calculator) Description() string {
	return "Evaluate an arithmetic expression with + - * / % and parentheses."
}

func (t *Calculator) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {"type": "string", "minLength": 1, "maxLength": 1024}
		},
		"required": ["expression"],
		"additionalProperties": false
	}`)
}

func (t *Calculator) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapCompute}
}

func (t *Calculator) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}

	expr, err := parser.ParseExpr(in.Expression)
	if err != nil {
		return nil, errs.Wrap(errs.KindTool, "expression does not parse", err)
	}
	value, err := evalExpr(expr)
	if err != nil {
		return nil, errs.Wrap(errs.KindTool, "expression evaluation", err)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return nil, errs.New(errs.KindTool, "expression result is not a finite number")
	}

	return tools.JSONResult(map[string]any{
		"expression": in.Expression,
		"result":     value,
	})
}

func evalExpr(node ast.Expr) (float64, error) {
	switch e := node.(type) {
	case *ast.BasicLit:
		switch e.Kind {
		case token.INT, token.FLOAT:
			return strconv.ParseFloat(e.Value, 64)
		}
		return 0, fmt.Errorf("unsupported literal %s", e.Kind)

	case *ast.ParenExpr:
		return evalExpr(e.X)

	case *ast.UnaryExpr:
		v, err := evalExpr(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		}
		return 0, fmt.Errorf("unsupported unary operator %s", e.Op)

	case *ast.BinaryExpr:
		left, err := evalExpr(e.X)
		if err != nil {
			return 0, err
		}
		right, err := evalExpr(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		case token.REM:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return math.Mod(left, right), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", e.Op)
	}
	return 0, fmt.Errorf("unsupported expression %T", node)
}

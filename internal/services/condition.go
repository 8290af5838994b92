package services

import (
	"errors"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/paulexconde/fieldsurvey/internal/models"
)

// ConditionEvaluator decides whether a questioning is shown, given the
// answers collected so far keyed by question code.
//
// Compiled programs are cached per expression.
type ConditionEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{programs: make(map[string]*vm.Program)}
}

// Visible reports whether q is shown. Hidden questionings never are; a
// questioning without a condition always is.
func (c *ConditionEvaluator) Visible(q *models.Questioning, env map[string]any) (bool, error) {
	if q.Item.Hidden {
		return false, nil
	}
	if q.Condition == nil || q.Condition.Expression == "" {
		return true, nil
	}
	return c.evaluate(q.Condition.Expression, env)
}

// Check compiles expression without running it.
func (c *ConditionEvaluator) Check(expression string) error {
	_, err := c.compile(expression)
	return err
}

func (c *ConditionEvaluator) evaluate(expression string, env map[string]any) (bool, error) {
	program, err := c.compile(expression)
	if err != nil {
		return false, err
	}

	// A condition that cannot be evaluated against the answers at hand (for
	// example comparing a skipped number) does not hold.
	output, err := expr.Run(program, env)
	if err != nil {
		return false, nil
	}

	result, ok := output.(bool)
	if !ok {
		return false, errors.New("expression did not return a boolean")
	}

	return result, nil
}

func (c *ConditionEvaluator) compile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	// Codes of unanswered questions are simply nil in the environment.
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()

	return program, nil
}

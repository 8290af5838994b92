package services

import (
	"fmt"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

// Scope carries the mission a call acts in. A zero MissionID is unscoped
// (operator tooling).
type Scope struct {
	MissionID int
}

func (s Scope) allows(form *models.Form) bool {
	return s.MissionID == 0 || s.MissionID == form.MissionID
}

// SortedQuestionings returns the questionings of form in sorted-leaf order.
func SortedQuestionings(form *models.Form) ([]*models.Questioning, error) {
	tree, err := NewFormTree(form.Items)
	if err != nil {
		return nil, err
	}

	leaves, err := tree.SortedLeaves(0)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Questioning, 0, len(leaves))
	for _, leaf := range leaves {
		q, ok := form.Questioning[leaf.ID]
		if !ok {
			return nil, fault.NewInternalError(fmt.Sprintf("questioning %d has no question", leaf.ID), nil)
		}
		out = append(out, q)
	}
	return out, nil
}

// walkVisible calls fn for each visible questioning, in order. The value fn
// returns (nil for none) is what later conditions see under the question code.
func walkVisible(qings []*models.Questioning, eval *ConditionEvaluator, fn func(q *models.Questioning) Value) error {
	env := make(map[string]any, len(qings))
	for _, q := range qings {
		visible, err := eval.Visible(q, env)
		if err != nil {
			return fault.NewInternalError("invalid condition on "+q.Code(), err)
		}
		if !visible {
			continue
		}
		if v := fn(q); v != nil {
			env[q.Code()] = v.Env()
		}
	}
	return nil
}

// orderAnswers sorts resp.Answers in questioning order; answers for
// questionings not in qings go last.
func orderAnswers(resp *models.Response, qings []*models.Questioning) {
	pos := make(map[int]int, len(qings))
	for i, q := range qings {
		pos[q.ID()] = i
	}
	ordered := make([]*models.Answer, 0, len(resp.Answers))
	var rest []*models.Answer
	byQing := make(map[int]*models.Answer, len(resp.Answers))
	for _, a := range resp.Answers {
		if _, ok := pos[a.QuestioningID]; ok {
			byQing[a.QuestioningID] = a
		} else {
			rest = append(rest, a)
		}
	}
	for _, q := range qings {
		if a, ok := byQing[q.ID()]; ok {
			if a.Questioning == nil {
				a.Questioning = q
			}
			ordered = append(ordered, a)
		}
	}
	resp.Answers = append(ordered, rest...)
}

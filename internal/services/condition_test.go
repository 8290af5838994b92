package services

import (
	"testing"

	"github.com/paulexconde/fieldsurvey/internal/models"
)

func conditioned(expression string) *models.Questioning {
	q := &models.Questioning{Item: models.FormItem{ID: 1, Kind: models.KindQuestioning}, Question: models.Question{Code: "q"}}
	if expression != "" {
		q.Condition = &models.Condition{Expression: expression}
	}
	return q
}

func TestVisible(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		env        map[string]any
		want       bool
	}{
		{name: "no condition", want: true},
		{name: "true", expression: `age >= 18`, env: map[string]any{"age": 30}, want: true},
		{name: "false", expression: `age >= 18`, env: map[string]any{"age": 12}, want: false},
		{name: "choice", expression: `color == "red"`, env: map[string]any{"color": "red"}, want: true},
		{name: "multi choice", expression: `"dog" in pets`, env: map[string]any{"pets": []string{"cat", "dog"}}, want: true},
		{name: "unanswered question", expression: `age >= 18`, env: map[string]any{}, want: false},
		{name: "unanswered compared to nil", expression: `age == nil`, env: map[string]any{}, want: true},
	}

	eval := NewConditionEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Visible(conditioned(tt.expression), tt.env)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Visible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisible_HiddenNeverShows(t *testing.T) {
	q := conditioned("")
	q.Item.Hidden = true

	visible, err := NewConditionEvaluator().Visible(q, nil)
	if err != nil || visible {
		t.Errorf("expected hidden questioning to be invisible, got %v (%v)", visible, err)
	}
}

func TestVisible_InvalidExpression(t *testing.T) {
	eval := NewConditionEvaluator()

	if _, err := eval.Visible(conditioned(`age >=`), nil); err == nil {
		t.Errorf("expected a compile error")
	}
	if err := eval.Check(`"a" + 1 == 2 ||`); err == nil {
		t.Errorf("expected Check to reject the expression")
	}
	if err := eval.Check(`age > 3`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

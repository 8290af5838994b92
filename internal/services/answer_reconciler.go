package services

import (
	"strconv"
	"strings"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

// AnswerPayload is a submitted answer as it arrives from an edit form. The
// questioning id is loose (a form parameter string).
type AnswerPayload struct {
	QuestioningID string
	Value         string
	OptionID      *int
	OptionIDs     []int
}

// AnswerDiff is the outcome of reconciling a response's answers with a
// submitted set.
type AnswerDiff struct {
	Updated []*models.Answer
	Deleted []*models.Answer
	Created []*models.Answer
}

func (d *AnswerDiff) Empty() bool {
	return len(d.Updated) == 0 && len(d.Deleted) == 0 && len(d.Created) == 0
}

// Apply drops deleted answers from resp and appends the created ones.
// Updated answers were already modified in place.
func (d *AnswerDiff) Apply(resp *models.Response) {
	gone := make(map[*models.Answer]bool, len(d.Deleted))
	for _, a := range d.Deleted {
		gone[a] = true
	}

	kept := make([]*models.Answer, 0, len(resp.Answers)+len(d.Created))
	for _, a := range resp.Answers {
		if !gone[a] {
			kept = append(kept, a)
		}
	}
	resp.Answers = append(kept, d.Created...)
}

// Matches the current answers of a response against a submitted set, keyed
// by questioning id.
type AnswerReconciler interface {
	Reconcile(current []*models.Answer, incoming []AnswerPayload) (*AnswerDiff, error)
}

type answerReconcilerImpl struct{}

// Instantiate the AnswerReconciler.
func NewAnswerReconciler() AnswerReconciler {
	return &answerReconcilerImpl{}
}

// Reconcile computes the whole diff from the state of current before any
// answer is touched, then applies the in-place updates. Invalid keys abort
// the reconciliation without modifying anything.
func (r *answerReconcilerImpl) Reconcile(current []*models.Answer, incoming []AnswerPayload) (*AnswerDiff, error) {
	byKey := make(map[int]*models.Answer, len(current))
	for _, a := range current {
		byKey[a.QuestioningID] = a
	}

	var errs []error
	submitted := make(map[int]AnswerPayload, len(incoming))
	order := make([]int, 0, len(incoming))
	for i, p := range incoming {
		key, err := strconv.Atoi(strings.TrimSpace(p.QuestioningID))
		if err != nil || key <= 0 {
			errs = append(errs, fault.Field("answers["+strconv.Itoa(i)+"]", "has an invalid questioning id "+strconv.Quote(p.QuestioningID)))
			continue
		}
		if _, seen := submitted[key]; !seen {
			order = append(order, key)
		}
		submitted[key] = p // last one wins
	}
	if err := fault.ValidationFailed(errs...); err != nil {
		return nil, err
	}

	diff := &AnswerDiff{}
	type update struct {
		orig *models.Answer
		subd AnswerPayload
	}
	var updates []update

	for _, a := range current {
		if p, ok := submitted[a.QuestioningID]; ok {
			updates = append(updates, update{orig: a, subd: p})
		} else {
			diff.Deleted = append(diff.Deleted, a)
		}
	}
	for _, key := range order {
		if _, ok := byKey[key]; ok {
			continue
		}
		p := submitted[key]
		diff.Created = append(diff.Created, &models.Answer{
			QuestioningID: key,
			Value:         p.Value,
			OptionID:      p.OptionID,
			OptionIDs:     p.OptionIDs,
		})
	}

	for _, u := range updates {
		u.orig.Value = u.subd.Value
		u.orig.OptionID = u.subd.OptionID
		u.orig.OptionIDs = u.subd.OptionIDs
		diff.Updated = append(diff.Updated, u.orig)
	}

	return diff, nil
}

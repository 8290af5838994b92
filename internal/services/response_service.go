package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/internal/pkg/paginator"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// Responses shown per listing page.
const ResponsesPerPage = 20

// UpdateRequest is an edit of a saved response.
type UpdateRequest struct {
	ResponseID int
	Answers    []AnswerPayload
	// PlaceID is set when the place was picked with the lookup tool.
	PlaceID  *int
	SetPlace bool
	Reviewed *bool
}

// Handles every saved response: edits, listings and exports.
type ResponseService struct {
	forms      store.FormReader
	responses  store.ResponseStore
	pager      paginator.Paginator[models.Response]
	reconciler AnswerReconciler
	conditions *ConditionEvaluator
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

func NewResponseService(forms store.FormReader, responses store.ResponseStore, pager paginator.Paginator[models.Response], conditions *ConditionEvaluator, loc *time.Location, logger *zap.Logger) *ResponseService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if conditions == nil {
		conditions = NewConditionEvaluator()
	}
	return &ResponseService{
		forms:      forms,
		responses:  responses,
		pager:      pager,
		reconciler: NewAnswerReconciler(),
		conditions: conditions,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}
}

// Update reconciles the submitted answers with the saved ones, checks the
// result is complete and valid, and saves it.
func (s *ResponseService) Update(ctx context.Context, scope Scope, req UpdateRequest) (*models.Response, error) {
	resp, form, err := s.load(ctx, scope, req.ResponseID)
	if err != nil {
		return nil, err
	}

	qings, err := SortedQuestionings(form)
	if err != nil {
		return nil, err
	}

	diff, err := s.reconciler.Reconcile(resp.Answers, req.Answers)
	if err != nil {
		return nil, err
	}
	diff.Apply(resp)

	var errs []error
	for _, a := range diff.Created {
		q, ok := form.Questioning[a.QuestioningID]
		if !ok {
			errs = append(errs, fault.Field("answers", "refer to unknown questioning "+strconv.Itoa(a.QuestioningID)))
			continue
		}
		a.Questioning = q
	}
	if err := fault.ValidationFailed(errs...); err != nil {
		return nil, err
	}

	resp.Modifier = models.SourceWeb
	if req.SetPlace {
		resp.SetPlace(req.PlaceID)
	}
	if req.Reviewed != nil {
		resp.Reviewed = *req.Reviewed
	}

	if err := s.CheckAnswers(resp, qings); err != nil {
		return nil, err
	}
	orderAnswers(resp, qings)

	if err := s.responses.SaveResponse(ctx, resp, diff.Deleted); err != nil {
		return nil, err
	}

	s.logger.Info("response updated",
		zap.Int("response_id", resp.ID),
		zap.Int("updated", len(diff.Updated)),
		zap.Int("created", len(diff.Created)),
		zap.Int("deleted", len(diff.Deleted)))

	return resp, nil
}

// CheckAnswers verifies every visible questioning has exactly one answer and
// that each answer holds a valid value for its question type.
func (s *ResponseService) CheckAnswers(resp *models.Response, qings []*models.Questioning) error {
	counts := make(map[int]int, len(resp.Answers))
	for _, a := range resp.Answers {
		counts[a.QuestioningID]++
	}

	var (
		missing []string
		errs    []error
	)
	err := walkVisible(qings, s.conditions, func(q *models.Questioning) Value {
		switch counts[q.ID()] {
		case 0:
			missing = append(missing, q.Code())
			return nil
		case 1:
		default:
			errs = append(errs, fault.Field(q.Code(), "has more than one answer"))
			return nil
		}
		v, err := StoredValue(q, resp.AnswerFor(q.ID()), s.loc)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		return v
	})
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		return fault.IncompleteResponse(missing)
	}
	return fault.ValidationFailed(errs...)
}

// Get loads a response with its answers, ordered like the form.
func (s *ResponseService) Get(ctx context.Context, scope Scope, id int) (*models.Response, error) {
	resp, form, err := s.load(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	qings, err := SortedQuestionings(form)
	if err != nil {
		return nil, err
	}
	orderAnswers(resp, qings)
	return resp, nil
}

func (s *ResponseService) load(ctx context.Context, scope Scope, id int) (*models.Response, *models.Form, error) {
	resp, err := s.responses.GetResponse(ctx, id)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, nil, fault.NewClientError(fmt.Sprintf("response %d not found", id), err)
		}
		return nil, nil, err
	}

	form, err := s.forms.GetForm(ctx, resp.FormID)
	if err != nil {
		return nil, nil, err
	}
	if !scope.allows(form) {
		return nil, nil, fault.NewClientError(fmt.Sprintf("response %d not found", id), fault.ErrNotFound)
	}

	for _, a := range resp.Answers {
		a.Questioning = form.Questioning[a.QuestioningID]
	}
	return resp, form, nil
}

// List pages through a form's responses, newest first.
func (s *ResponseService) List(ctx context.Context, formID, page int) (*paginator.Page[models.Response], error) {
	query := `SELECT id, uuid, form_id, user_id, place_id, observed_at, reviewed, source, created_at
		FROM responses WHERE form_id = ? ORDER BY created_at DESC, id DESC`
	return s.pager.Paginate(ctx, query, []any{formID}, page)
}

// RecentCount describes how many responses arrived lately, e.g. "3 in the Past Day".
func (s *ResponseService) RecentCount(ctx context.Context, formID int) (string, error) {
	periods := []struct {
		name string
		span time.Duration
	}{
		{"Hour", time.Hour},
		{"Day", 24 * time.Hour},
		{"Week", 7 * 24 * time.Hour},
		{"Month", 30 * 24 * time.Hour},
	}

	now := s.now()
	for _, p := range periods {
		n, err := s.responses.CountSince(ctx, formID, now.Add(-p.span))
		if err != nil {
			return "", err
		}
		if n > 0 {
			return fmt.Sprintf("%d in the Past %s", n, p.name), nil
		}
	}
	return "No recent reports", nil
}

// ExportCSV writes one row per response; answer columns follow the form order.
func (s *ResponseService) ExportCSV(ctx context.Context, w io.Writer, formID int) error {
	form, err := s.forms.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	qings, err := SortedQuestionings(form)
	if err != nil {
		return err
	}
	responses, err := s.responses.ListWithAnswers(ctx, formID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)

	header := []string{"response_id", "uuid", "observed_at", "reviewed", "source", "user_id", "place_id"}
	for _, q := range qings {
		header = append(header, q.Code())
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, resp := range responses {
		row := []string{
			strconv.Itoa(resp.ID),
			resp.UUID,
			resp.ObservedAtString(),
			strconv.FormatBool(resp.Reviewed),
			resp.Source,
			strconv.Itoa(resp.UserID),
			"",
		}
		if resp.PlaceID != nil {
			row[6] = strconv.Itoa(*resp.PlaceID)
		}
		for _, q := range qings {
			row = append(row, exportCell(q, resp.AnswerFor(q.ID())))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportCell(q *models.Questioning, a *models.Answer) string {
	if a == nil {
		return ""
	}
	switch q.Question.Type {
	case models.TypeSelectOne, models.TypeSelectMultiple:
		var codes []string
		for _, o := range q.Question.Options {
			if a.OptionID != nil && *a.OptionID == o.ID {
				codes = append(codes, o.Code)
			}
			for _, id := range a.OptionIDs {
				if id == o.ID {
					codes = append(codes, o.Code)
				}
			}
		}
		return strings.Join(codes, ";")
	default:
		return a.Value
	}
}

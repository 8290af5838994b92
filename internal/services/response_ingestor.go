package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// ResponseIngestor turns external submissions into saved responses.
type ResponseIngestor struct {
	forms      store.FormReader
	responses  store.ResponseStore
	conditions *ConditionEvaluator
	loc        *time.Location
	logger     *zap.Logger
	newUUID    func() string
}

// NewResponseIngestor parses timestamps in loc (UTC when nil).
func NewResponseIngestor(forms store.FormReader, responses store.ResponseStore, conditions *ConditionEvaluator, loc *time.Location, logger *zap.Logger) *ResponseIngestor {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if conditions == nil {
		conditions = NewConditionEvaluator()
	}
	return &ResponseIngestor{
		forms:      forms,
		responses:  responses,
		conditions: conditions,
		loc:        loc,
		logger:     logger,
		newUUID:    uuid.NewString,
	}
}

// CreateFromSubmission parses payload, answers every visible questioning of
// the form it names and saves the response with its answers in one unit.
func (s *ResponseIngestor) CreateFromSubmission(ctx context.Context, scope Scope, payload io.Reader, user *models.User) (*models.Response, error) {
	sub, err := ParseSubmission(payload)
	if err != nil {
		return nil, err
	}

	form, err := s.forms.GetForm(ctx, sub.FormID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fault.UnknownForm(sub.FormID)
		}
		return nil, err
	}
	if !scope.allows(form) {
		return nil, fault.UnknownForm(sub.FormID)
	}

	resp := &models.Response{
		UUID:     s.newUUID(),
		FormID:   form.ID,
		Source:   models.SourceODK,
		Modifier: models.SourceODK,
	}
	if user != nil {
		resp.UserID = user.ID
	}

	if stamp, ok := sub.Take(StartStampField); ok {
		if t, err := parseTimestamp(stamp, s.loc); err == nil {
			resp.ObservedAt = &t
		} else {
			s.logger.Debug("ignoring unparseable start stamp", zap.String("value", stamp), zap.Error(err))
		}
	}

	qings, err := SortedQuestionings(form)
	if err != nil {
		return nil, err
	}

	var (
		missing []string
		errs    []error
	)
	err = walkVisible(qings, s.conditions, func(q *models.Questioning) Value {
		raw, ok := sub.Values[q.Code()]
		if !ok {
			missing = append(missing, q.Code())
			return nil
		}
		v, err := ParseValue(q.Question, raw, s.loc)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		resp.Answers = append(resp.Answers, NewAnswer(q, v))
		return v
	})
	if err != nil {
		return nil, err
	}

	if user == nil {
		errs = append(errs, fault.Field("user", "is required"))
	}
	if len(missing) > 0 {
		return nil, fault.IncompleteResponse(missing)
	}
	if err := fault.ValidationFailed(errs...); err != nil {
		return nil, err
	}

	if err := s.responses.SaveResponse(ctx, resp, nil); err != nil {
		s.logger.Error("saving submitted response failed", zap.Int("form_id", form.ID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("response ingested",
		zap.Int("response_id", resp.ID),
		zap.String("uuid", resp.UUID),
		zap.Int("form_id", form.ID),
		zap.Int("answers", len(resp.Answers)))

	return resp, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// FormDefinition is the YAML shape of a form design.
//
//	name: Household
//	items:
//	  - question: {code: hh_size, type: integer}
//	  - group:
//	      items:
//	        - question: {code: water, type: select_one, options: [{code: well}, {code: tap}]}
//	          condition: hh_size > 2
type FormDefinition struct {
	Name      string           `yaml:"name"`
	MissionID int              `yaml:"mission_id"`
	Items     []ItemDefinition `yaml:"items"`
}

// ItemDefinition holds exactly one of Group or Question.
type ItemDefinition struct {
	Group     *GroupDefinition    `yaml:"group"`
	Question  *QuestionDefinition `yaml:"question"`
	Condition string              `yaml:"condition"`
	Hidden    bool                `yaml:"hidden"`
}

type GroupDefinition struct {
	Items []ItemDefinition `yaml:"items"`
}

type QuestionDefinition struct {
	Code    string              `yaml:"code"`
	Name    string              `yaml:"name"`
	Type    models.QuestionType `yaml:"type"`
	Options []OptionDefinition  `yaml:"options"`
}

type OptionDefinition struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// FormImporter creates forms from YAML definitions.
type FormImporter struct {
	forms      store.FormWriter
	conditions *ConditionEvaluator
	logger     *zap.Logger
}

func NewFormImporter(forms store.FormWriter, conditions *ConditionEvaluator, logger *zap.Logger) *FormImporter {
	if conditions == nil {
		conditions = NewConditionEvaluator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormImporter{forms: forms, conditions: conditions, logger: logger}
}

// Import validates the definition read from r and stores it in one
// transaction. A non-zero scope mission overrides the definition's.
func (s *FormImporter) Import(ctx context.Context, scope Scope, r io.Reader) (*models.Form, error) {
	var def FormDefinition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, fault.NewClientError("unparseable form definition", err)
	}
	if scope.MissionID != 0 {
		def.MissionID = scope.MissionID
	}

	if err := s.validate(def); err != nil {
		return nil, err
	}

	form := &models.Form{MissionID: def.MissionID, Name: strings.TrimSpace(def.Name)}
	err := s.forms.ImportForm(ctx, func(tx store.FormWriteTx) error {
		if err := tx.InsertForm(ctx, form); err != nil {
			return err
		}
		return s.insertItems(ctx, tx, form, "", def.Items)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("form imported",
		zap.Int("form_id", form.ID),
		zap.String("name", form.Name),
		zap.Int("items", len(form.Items)))
	return form, nil
}

func (s *FormImporter) insertItems(ctx context.Context, tx store.FormWriteTx, form *models.Form, ancestry string, defs []ItemDefinition) error {
	for i, d := range defs {
		item := models.FormItem{
			FormID:    form.ID,
			MissionID: form.MissionID,
			Ancestry:  ancestry,
			Rank:      i + 1,
			Hidden:    d.Hidden,
		}

		if d.Group != nil {
			item.Kind = models.KindGroup
			if err := tx.InsertItem(ctx, &item); err != nil {
				return err
			}
			form.Items = append(form.Items, item)
			if err := s.insertItems(ctx, tx, form, item.ChildAncestry(), d.Group.Items); err != nil {
				return err
			}
			continue
		}

		q := models.Question{
			MissionID: form.MissionID,
			Code:      d.Question.Code,
			Name:      d.Question.Name,
			Type:      d.Question.Type,
		}
		for _, o := range d.Question.Options {
			q.Options = append(q.Options, models.Option{Code: o.Code, Name: o.Name})
		}
		if err := tx.UpsertQuestion(ctx, &q); err != nil {
			return err
		}

		item.Kind = models.KindQuestioning
		item.QuestionID = &q.ID
		if err := tx.InsertItem(ctx, &item); err != nil {
			return err
		}
		form.Items = append(form.Items, item)

		if d.Condition != "" {
			c := models.Condition{QuestioningID: item.ID, Expression: d.Condition}
			if err := tx.InsertCondition(ctx, &c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *FormImporter) validate(def FormDefinition) error {
	var errs []error
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, fault.Field("name", "is required"))
	}
	seen := make(map[string]bool)
	s.validateItems(def.Items, "items", seen, &errs)
	return fault.ValidationFailed(errs...)
}

func (s *FormImporter) validateItems(defs []ItemDefinition, path string, seen map[string]bool, errs *[]error) {
	for i, d := range defs {
		at := fmt.Sprintf("%s[%d]", path, i)

		switch {
		case d.Group != nil && d.Question != nil:
			*errs = append(*errs, fault.Field(at, "must be either a group or a question"))
			continue
		case d.Group != nil:
			if d.Condition != "" {
				*errs = append(*errs, fault.Field(at, "groups cannot carry a condition"))
			}
			s.validateItems(d.Group.Items, at+".group.items", seen, errs)
			continue
		case d.Question == nil:
			*errs = append(*errs, fault.Field(at, "must be either a group or a question"))
			continue
		}

		q := d.Question
		switch {
		case q.Code == "":
			*errs = append(*errs, fault.Field(at+".code", "is required"))
		case seen[q.Code]:
			*errs = append(*errs, fault.Field(at+".code", fmt.Sprintf("%q is used twice", q.Code)))
		case q.Code == StartStampField:
			*errs = append(*errs, fault.Field(at+".code", "is reserved"))
		}
		seen[q.Code] = true

		if !q.Type.Valid() {
			*errs = append(*errs, fault.Field(at+".type", fmt.Sprintf("unknown question type %q", q.Type)))
		}
		hasOptions := q.Type == models.TypeSelectOne || q.Type == models.TypeSelectMultiple
		if hasOptions && len(q.Options) == 0 {
			*errs = append(*errs, fault.Field(at+".options", "are required"))
		}
		if !hasOptions && len(q.Options) > 0 {
			*errs = append(*errs, fault.Field(at+".options", "only apply to select questions"))
		}
		codes := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			if o.Code == "" || codes[o.Code] {
				*errs = append(*errs, fault.Field(at+".options", "need unique codes"))
				break
			}
			codes[o.Code] = true
		}

		if d.Condition != "" {
			if err := s.conditions.Check(d.Condition); err != nil {
				*errs = append(*errs, fault.Field(at+".condition", err.Error()))
			}
		}
	}
}

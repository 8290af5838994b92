package services

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

// Value is a typed answer value. The set of implementations is closed: one
// per question type plus NoValue for an explicit "no answer".
type Value interface {
	// Env is the value exposed to display conditions.
	Env() any
	apply(a *models.Answer)
}

type NoValue struct{}

type TextValue struct{ Text string }

type IntegerValue struct{ Int int64 }

type DecimalValue struct{ Float float64 }

type ChoiceValue struct{ Option models.Option }

type MultiChoiceValue struct{ Options []models.Option }

// LocationValue keeps the raw "lat lng [alt acc]" string next to the parsed pair.
type LocationValue struct {
	Lat, Lng float64
	Raw      string
}

type DatetimeValue struct{ Time time.Time }

func (NoValue) Env() any { return nil }
func (v TextValue) Env() any { return v.Text }
func (v IntegerValue) Env() any { return int(v.Int) }
func (v DecimalValue) Env() any { return v.Float }
func (v ChoiceValue) Env() any { return v.Option.Code }
func (v LocationValue) Env() any { return v.Raw }
func (v DatetimeValue) Env() any { return v.Time }
func (v MultiChoiceValue) Env() any {
	codes := make([]string, len(v.Options))
	for i, o := range v.Options {
		codes[i] = o.Code
	}
	return codes
}

func (NoValue) apply(a *models.Answer) {
	a.Value, a.OptionID, a.OptionIDs = "", nil, nil
}

func (v TextValue) apply(a *models.Answer) {
	a.Value, a.OptionID, a.OptionIDs = v.Text, nil, nil
}

func (v IntegerValue) apply(a *models.Answer) {
	a.Value, a.OptionID, a.OptionIDs = strconv.FormatInt(v.Int, 10), nil, nil
}

func (v DecimalValue) apply(a *models.Answer) {
	a.Value, a.OptionID, a.OptionIDs = strconv.FormatFloat(v.Float, 'f', -1, 64), nil, nil
}

func (v ChoiceValue) apply(a *models.Answer) {
	id := v.Option.ID
	a.Value, a.OptionID, a.OptionIDs = "", &id, nil
}

func (v MultiChoiceValue) apply(a *models.Answer) {
	ids := make([]int, len(v.Options))
	for i, o := range v.Options {
		ids[i] = o.ID
	}
	a.Value, a.OptionID, a.OptionIDs = "", nil, ids
}

func (v LocationValue) apply(a *models.Answer) {
	a.Value, a.OptionID, a.OptionIDs = v.Raw, nil, nil
}

func (v DatetimeValue) apply(a *models.Answer) {
	a.Value, a.OptionID, a.OptionIDs = v.Time.Format(time.RFC3339), nil, nil
}

// ParseValue turns the raw string of a submission into the typed value for
// q. An empty string is an explicit "no answer".
func ParseValue(q models.Question, raw string, loc *time.Location) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NoValue{}, nil
	}

	switch q.Type {
	case models.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fault.Field(q.Code, "must be an integer")
		}
		return IntegerValue{Int: n}, nil

	case models.TypeDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || !finite(f) {
			return nil, fault.Field(q.Code, "must be a number")
		}
		return DecimalValue{Float: f}, nil

	case models.TypeSelectOne:
		opt, ok := q.OptionByCode(raw)
		if !ok {
			return nil, fault.Field(q.Code, "has an unknown option "+strconv.Quote(raw))
		}
		return ChoiceValue{Option: opt}, nil

	case models.TypeSelectMultiple:
		var opts []models.Option
		for _, code := range strings.Fields(raw) {
			opt, ok := q.OptionByCode(code)
			if !ok {
				return nil, fault.Field(q.Code, "has an unknown option "+strconv.Quote(code))
			}
			opts = append(opts, opt)
		}
		return MultiChoiceValue{Options: opts}, nil

	case models.TypeLocation:
		lat, lng, ok := parseCoordinates(raw)
		if !ok {
			return nil, fault.Field(q.Code, "must be a latitude and longitude")
		}
		return LocationValue{Lat: lat, Lng: lng, Raw: raw}, nil

	case models.TypeDatetime:
		t, err := parseTimestamp(raw, loc)
		if err != nil {
			return nil, fault.Field(q.Code, "must be a date and time")
		}
		return DatetimeValue{Time: t}, nil

	default:
		return TextValue{Text: raw}, nil
	}
}

// StoredValue rebuilds the typed value of an answer loaded from storage.
func StoredValue(q *models.Questioning, a *models.Answer, loc *time.Location) (Value, error) {
	switch q.Question.Type {
	case models.TypeSelectOne:
		if a.OptionID == nil {
			return NoValue{}, nil
		}
		for _, o := range q.Question.Options {
			if o.ID == *a.OptionID {
				return ChoiceValue{Option: o}, nil
			}
		}
		return nil, fault.Field(q.Code(), "has an unknown option")

	case models.TypeSelectMultiple:
		if len(a.OptionIDs) == 0 {
			return NoValue{}, nil
		}
		selected := make(map[int]bool, len(a.OptionIDs))
		for _, id := range a.OptionIDs {
			selected[id] = true
		}
		var opts []models.Option
		for _, o := range q.Question.Options {
			if selected[o.ID] {
				opts = append(opts, o)
			}
		}
		if len(opts) != len(selected) {
			return nil, fault.Field(q.Code(), "has an unknown option")
		}
		return MultiChoiceValue{Options: opts}, nil

	default:
		return ParseValue(q.Question, a.Value, loc)
	}
}

// NewAnswer builds the answer record for a questioning from a typed value.
func NewAnswer(q *models.Questioning, v Value) *models.Answer {
	a := &models.Answer{QuestioningID: q.ID(), Questioning: q}
	v.apply(a)
	return a
}

// parseCoordinates reads the first two fields of "lat lng [alt acc]".
func parseCoordinates(raw string) (float64, float64, bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || !finite(lat) || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || !finite(lng) || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

// finite rejects the NaN and Inf spellings ParseFloat accepts.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

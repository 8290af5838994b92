package models

import (
	"fmt"
	"time"
)

// Source values for Response.Source.
const (
	SourceODK = "odk"
	SourceWeb = "web"
)

// Response is a single submission of a form.
type Response struct {
	ID         int        `db:"id" json:"id"`
	UUID       string     `db:"uuid" json:"uuid"`
	FormID     int        `db:"form_id" json:"form_id"`
	UserID     int        `db:"user_id" json:"user_id"`
	PlaceID    *int       `db:"place_id" json:"place_id,omitempty"`
	ObservedAt *time.Time `db:"observed_at" json:"observed_at,omitempty"`
	Reviewed   bool       `db:"reviewed" json:"reviewed"`
	Source     string     `db:"source" json:"source"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`

	// Who is modifying the response ("odk", "web"). Not persisted.
	Modifier string `db:"-" json:"-"`
	// Set when the place was picked with the lookup tool rather than derived
	// from answers.
	PlaceChanged bool `db:"-" json:"-"`

	Answers []*Answer `db:"-" json:"answers,omitempty"`
}

func (r *Response) IsNew() bool { return r.ID == 0 }

// SetPlace attaches a place picked by an interactive lookup.
func (r *Response) SetPlace(placeID *int) {
	if !sameID(r.PlaceID, placeID) {
		r.PlaceChanged = true
	}
	r.PlaceID = placeID
}

// AnswerFor returns the answer for the given questioning, if any.
func (r *Response) AnswerFor(questioningID int) *Answer {
	for _, a := range r.Answers {
		if a.QuestioningID == questioningID {
			return a
		}
	}
	return nil
}

// ObservedAtString formats the observation time like "2024-03-01 9:15AM +0000".
func (r *Response) ObservedAtString() string {
	if r.ObservedAt == nil {
		return ""
	}
	t := *r.ObservedAt
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%s %d:%s%s", t.Format("2006-01-02"), hour, t.Format("04PM"), t.Format(" -0700"))
}

// Answer is the value of one questioning within one response.
type Answer struct {
	ID            int    `db:"id" json:"id"`
	ResponseID    int    `db:"response_id" json:"response_id"`
	QuestioningID int    `db:"questioning_id" json:"questioning_id"`
	Value         string `db:"value" json:"value"`
	OptionID      *int   `db:"option_id" json:"option_id,omitempty"`

	// Selected options of a select_multiple question.
	OptionIDs []int `db:"-" json:"option_ids,omitempty"`

	Questioning *Questioning `db:"-" json:"-"`

	persisted bool
	baseline  string
}

// MarkPersisted records the current value as the stored one.
func (a *Answer) MarkPersisted() {
	a.persisted = true
	a.baseline = a.Value
}

// ValueChanged reports whether Value differs from what was last persisted.
// Unsaved answers count as changed once they carry a value.
func (a *Answer) ValueChanged() bool {
	if !a.persisted {
		return a.Value != ""
	}
	return a.Value != a.baseline
}

func (a *Answer) IsNew() bool { return a.ID == 0 }

func sameID(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

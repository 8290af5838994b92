package models

import (
	"strconv"
	"strings"
)

type Form struct {
	ID        int    `db:"id" json:"id"`
	MissionID int    `db:"mission_id" json:"mission_id"`
	Name      string `db:"name" json:"name"`

	Items       []FormItem           `db:"-" json:"items,omitempty"`
	Questioning map[int]*Questioning `db:"-" json:"-"` // keyed by FormItem.ID
}

// The kind of node in a form's item tree.
type ItemKind string

const (
	KindGroup       ItemKind = "group"
	KindQuestioning ItemKind = "questioning"
)

// FormItem is a node of the form tree.
//
// Ancestry is the materialized path of ancestor ids joined by "/", and is
// empty for root-level items.
type FormItem struct {
	ID         int      `db:"id" json:"id"`
	FormID     int      `db:"form_id" json:"form_id"`
	MissionID  int      `db:"mission_id" json:"mission_id"`
	Ancestry   string   `db:"ancestry" json:"ancestry"`
	Rank       int      `db:"rank" json:"rank"`
	Kind       ItemKind `db:"kind" json:"kind"`
	QuestionID *int     `db:"question_id" json:"question_id,omitempty"`
	Hidden     bool     `db:"hidden" json:"hidden"`
}

func (i FormItem) IsGroup() bool { return i.Kind == KindGroup }

// ParentID returns the id of the direct parent, or 0 for root-level items.
func (i FormItem) ParentID() int {
	if i.Ancestry == "" {
		return 0
	}
	last := i.Ancestry
	if idx := strings.LastIndexByte(last, '/'); idx >= 0 {
		last = last[idx+1:]
	}
	id, _ := strconv.Atoi(last)
	return id
}

// ChildAncestry is the ancestry value carried by this item's children.
func (i FormItem) ChildAncestry() string {
	if i.Ancestry == "" {
		return strconv.Itoa(i.ID)
	}
	return i.Ancestry + "/" + strconv.Itoa(i.ID)
}

// Depth is the number of ancestors.
func (i FormItem) Depth() int {
	if i.Ancestry == "" {
		return 0
	}
	return strings.Count(i.Ancestry, "/") + 1
}

// The type of question being asked.
type QuestionType string

const (
	TypeText           QuestionType = "text"
	TypeLongText       QuestionType = "long_text"
	TypeInteger        QuestionType = "integer"
	TypeDecimal        QuestionType = "decimal"
	TypeSelectOne      QuestionType = "select_one"
	TypeSelectMultiple QuestionType = "select_multiple"
	TypeLocation       QuestionType = "location"
	TypeAddress        QuestionType = "address"
	TypeDatetime       QuestionType = "datetime"
)

func (t QuestionType) Valid() bool {
	switch t {
	case TypeText, TypeLongText, TypeInteger, TypeDecimal, TypeSelectOne,
		TypeSelectMultiple, TypeLocation, TypeAddress, TypeDatetime:
		return true
	}
	return false
}

type Question struct {
	ID        int          `db:"id" json:"id"`
	MissionID int          `db:"mission_id" json:"mission_id"`
	Code      string       `db:"code" json:"code"`
	Name      string       `db:"name" json:"name"`
	Type      QuestionType `db:"question_type" json:"type"`

	Options []Option `db:"-" json:"options,omitempty"`
}

func (q Question) IsLocation() bool { return q.Type == TypeLocation }
func (q Question) IsAddress() bool  { return q.Type == TypeAddress }

// OptionByCode finds the option carrying the given external code.
func (q Question) OptionByCode(code string) (Option, bool) {
	for _, o := range q.Options {
		if o.Code == code {
			return o, true
		}
	}
	return Option{}, false
}

type Option struct {
	ID         int    `db:"id" json:"id"`
	QuestionID int    `db:"question_id" json:"question_id"`
	Code       string `db:"code" json:"code"`
	Name       string `db:"name" json:"name"`
	Rank       int    `db:"rank" json:"rank"`
}

// Display logic attached to a questioning.
//
// Expression is evaluated against the answers given so far, keyed by
// question code.
type Condition struct {
	ID            int    `db:"id" json:"id"`
	QuestioningID int    `db:"questioning_id" json:"questioning_id"`
	Expression    string `db:"expression" json:"expression"`
}

// Questioning binds a question to its place in a form.
type Questioning struct {
	Item      FormItem
	Question  Question
	Condition *Condition
}

func (q *Questioning) ID() int      { return q.Item.ID }
func (q *Questioning) Code() string { return q.Question.Code }

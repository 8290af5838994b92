package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

func ingestComplete(t *testing.T, responses *memResponses) *models.Response {
	t.Helper()
	resp, err := newTestIngestor(responses).CreateFromSubmission(context.Background(), Scope{}, strings.NewReader(completeSubmission), submitter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func payloadsOf(resp *models.Response) []AnswerPayload {
	var out []AnswerPayload
	for _, a := range resp.Answers {
		out = append(out, AnswerPayload{
			QuestioningID: strconv.Itoa(a.QuestioningID),
			Value:         a.Value,
			OptionID:      a.OptionID,
			OptionIDs:     append([]int(nil), a.OptionIDs...),
		})
	}
	return out
}

func newTestResponseService(responses *memResponses) *ResponseService {
	return NewResponseService(newMemForms(testForm()), responses, nil, nil, time.UTC, nil)
}

func TestUpdate_ReconcilesAndSaves(t *testing.T) {
	responses := newMemResponses()
	resp := ingestComplete(t, responses)
	petName := resp.AnswerFor(7)

	payloads := payloadsOf(resp)
	payloads[0].Value = "Ada L."
	payloads[5].OptionIDs = []int{61} // cat only hides pet_name
	payloads = payloads[:6]

	reviewed := true
	updated, err := newTestResponseService(responses).Update(context.Background(), Scope{MissionID: 3}, UpdateRequest{
		ResponseID: resp.ID,
		Answers:    payloads,
		Reviewed:   &reviewed,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.AnswerFor(1).Value != "Ada L." || !updated.Reviewed || updated.Modifier != models.SourceWeb {
		t.Errorf("unexpected response after update %+v", updated)
	}
	if updated.AnswerFor(7) != nil {
		t.Errorf("pet_name should be gone")
	}
	if len(responses.deleted) != 1 || responses.deleted[0] != petName {
		t.Errorf("expected pet_name to be deleted, got %+v", responses.deleted)
	}
	if got := qingIDs(updated.Answers); !cmp.Equal([]int{1, 2, 3, 4, 5, 6}, got) {
		t.Errorf("answers out of order: %v", got)
	}
}

func TestUpdate_AddsNewAnswers(t *testing.T) {
	responses := newMemResponses()
	resp := ingestComplete(t, responses)

	// Drop pet_name first, then bring it back.
	svc := newTestResponseService(responses)
	payloads := payloadsOf(resp)
	payloads[5].OptionIDs = []int{61}
	if _, err := svc.Update(context.Background(), Scope{}, UpdateRequest{ResponseID: resp.ID, Answers: payloads[:6]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payloads = payloadsOf(resp)
	payloads[5].OptionIDs = []int{62}
	payloads = append(payloads, AnswerPayload{QuestioningID: "7", Value: "Rex II"})
	updated, err := svc.Update(context.Background(), Scope{}, UpdateRequest{ResponseID: resp.ID, Answers: payloads})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := updated.AnswerFor(7)
	if a == nil || a.Value != "Rex II" || a.Questioning == nil || a.ID == 0 {
		t.Errorf("expected a saved pet_name answer, got %+v", a)
	}
}

func TestUpdate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		scope  Scope
		mutate func([]AnswerPayload) []AnswerPayload
		want   fault.Kind
	}{
		{
			name:   "missing answer",
			mutate: func(p []AnswerPayload) []AnswerPayload { return append(p[:1], p[2:]...) },
			want:   fault.KindIncompleteResponse,
		},
		{
			name: "invalid value",
			mutate: func(p []AnswerPayload) []AnswerPayload {
				p[1].Value = "forty"
				return p
			},
			want: fault.KindValidationFailed,
		},
		{
			name: "unknown questioning",
			mutate: func(p []AnswerPayload) []AnswerPayload {
				return append(p, AnswerPayload{QuestioningID: "99", Value: "x"})
			},
			want: fault.KindValidationFailed,
		},
		{
			name: "bad key",
			mutate: func(p []AnswerPayload) []AnswerPayload {
				return append(p, AnswerPayload{QuestioningID: "abc"})
			},
			want: fault.KindValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := newMemResponses()
			resp := ingestComplete(t, responses)
			saves := responses.saves

			_, err := newTestResponseService(responses).Update(context.Background(), tt.scope, UpdateRequest{
				ResponseID: resp.ID,
				Answers:    tt.mutate(payloadsOf(resp)),
			})
			if got := fault.KindOf(err); got != tt.want {
				t.Errorf("expected %v, got %v (%v)", tt.want, got, err)
			}
			if responses.saves != saves {
				t.Errorf("rejected update must not be saved")
			}
		})
	}
}

func TestUpdate_OutOfScope(t *testing.T) {
	responses := newMemResponses()
	resp := ingestComplete(t, responses)

	_, err := newTestResponseService(responses).Update(context.Background(), Scope{MissionID: 4}, UpdateRequest{
		ResponseID: resp.ID,
		Answers:    payloadsOf(resp),
	})
	if !fault.IsClientError(err) {
		t.Errorf("expected a not found client error, got %v", err)
	}
}

func TestUpdate_PickedPlaceIsFlagged(t *testing.T) {
	responses := newMemResponses()
	resp := ingestComplete(t, responses)

	var flagged bool
	responses.onSave = func(_ context.Context, r *models.Response) error {
		flagged = r.PlaceChanged
		return nil
	}

	place := 7
	_, err := newTestResponseService(responses).Update(context.Background(), Scope{}, UpdateRequest{
		ResponseID: resp.ID,
		Answers:    payloadsOf(resp),
		PlaceID:    &place,
		SetPlace:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flagged {
		t.Errorf("expected the save to see a picked place")
	}
}

func TestRecentCount(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ages []time.Duration
		want string
	}{
		{"none", nil, "No recent reports"},
		{"hour", []time.Duration{10 * time.Minute, 2 * time.Hour}, "1 in the Past Hour"},
		{"day", []time.Duration{3 * time.Hour, 5 * time.Hour}, "2 in the Past Day"},
		{"week", []time.Duration{72 * time.Hour}, "1 in the Past Week"},
		{"month", []time.Duration{20 * 24 * time.Hour}, "1 in the Past Month"},
		{"too old", []time.Duration{40 * 24 * time.Hour}, "No recent reports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := newMemResponses()
			for i, age := range tt.ages {
				responses.byID[i+1] = &models.Response{ID: i + 1, FormID: 1, CreatedAt: now.Add(-age)}
			}
			svc := newTestResponseService(responses)
			svc.now = func() time.Time { return now }

			got, err := svc.RecentCount(context.Background(), 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RecentCount() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExportCSV(t *testing.T) {
	responses := newMemResponses()
	resp := ingestComplete(t, responses)
	place := 3
	resp.PlaceID = &place

	var buf bytes.Buffer
	if err := newTestResponseService(responses).ExportCSV(context.Background(), &buf, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{
		{"response_id", "uuid", "observed_at", "reviewed", "source", "user_id", "place_id",
			"name", "age", "loc", "addr", "color", "pets", "pet_name", "secret"},
		{"1", "uuid-1", "2024-03-01 2:15PM +0000", "false", "odk", "9", "3",
			"Ada", "36", "-1.286389 36.817223 0 5", "Nairobi", "blue", "cat;dog", "Rex", ""},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

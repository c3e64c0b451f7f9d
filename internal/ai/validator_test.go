package ai

import (
	"errors"
	"testing"
)

const validPayload = `{
	"strengths": ["clear structure", "good use of citations"],
	"improvements": ["the conclusion restates rather than synthesizes"],
	"suggestions": ["tie the final paragraph back to the thesis"],
	"summary": "A solid essay with room to grow in the conclusion.",
	"score": 82,
	"criteria_scores": [
		{"criteria_id": "c1", "score": 40, "feedback": "meets expectations"},
		{"criteria_id": "c2", "score": 42}
	]
}`

func TestValidateFeedback_Valid(t *testing.T) {
	result, err := ValidateFeedback(validPayload)
	if err != nil {
		t.Fatalf("ValidateFeedback: %v", err)
	}

	if result.Score != 82 {
		t.Errorf("got score %v, want 82", result.Score)
	}
	if len(result.Strengths) != 2 {
		t.Errorf("got %d strengths, want 2", len(result.Strengths))
	}
	if len(result.CriteriaScores) != 2 {
		t.Fatalf("got %d criteria scores, want 2", len(result.CriteriaScores))
	}
	if result.CriteriaScores[0].CriteriaID != "c1" {
		t.Errorf("got criteria id %q, want c1", result.CriteriaScores[0].CriteriaID)
	}
}

func TestValidateFeedback_CodeFenced(t *testing.T) {
	fenced := "```json\n" + validPayload + "\n```"
	result, err := ValidateFeedback(fenced)
	if err != nil {
		t.Fatalf("ValidateFeedback: %v", err)
	}
	if result.Score != 82 {
		t.Errorf("got score %v, want 82", result.Score)
	}
}

func TestValidateFeedback_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not JSON", "the essay was fine I guess"},
		{"score missing", `{"strengths":[],"improvements":[],"suggestions":[],"summary":""}`},
		{"score out of range", `{"strengths":[],"improvements":[],"suggestions":[],"summary":"","score":140}`},
		{"score negative", `{"strengths":[],"improvements":[],"suggestions":[],"summary":"","score":-1}`},
		{"score as string", `{"strengths":[],"improvements":[],"suggestions":[],"summary":"","score":"85"}`},
		{"strengths not array", `{"strengths":"good","improvements":[],"suggestions":[],"summary":"","score":50}`},
		{"strengths mixed types", `{"strengths":["ok",3],"improvements":[],"suggestions":[],"summary":"","score":50}`},
		{"empty summary with sections", `{"strengths":["ok"],"improvements":[],"suggestions":[],"summary":"","score":50}`},
		{"criteria score non-numeric", `{"strengths":[],"improvements":[],"suggestions":[],"summary":"","score":50,"criteria_scores":[{"criteria_id":"c1","score":"high"}]}`},
		{"criteria id missing", `{"strengths":[],"improvements":[],"suggestions":[],"summary":"","score":50,"criteria_scores":[{"score":10}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateFeedback(tt.raw)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestValidateFeedback_EmptySectionsAllowEmptySummary(t *testing.T) {
	result, err := ValidateFeedback(`{"strengths":[],"improvements":[],"suggestions":[],"summary":"","score":0}`)
	if err != nil {
		t.Fatalf("empty sections with empty summary should validate: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("got score %v, want 0", result.Score)
	}
}

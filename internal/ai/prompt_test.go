package ai

import (
	"strings"
	"testing"

	"github.com/classlab/gradeflow/internal/domain"
)

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(&domain.AssignmentContext{
		Title:              "Essay on the French Revolution",
		Description:        "Analyze the causes of the revolution.",
		InstructorGuidance: "Deduct heavily for missing primary sources.",
		Rubric: []domain.RubricCriterion{
			{ID: "c1", Name: "Argument", MaxScore: 50, Description: "Thesis clarity"},
			{ID: "c2", Name: "Sources", MaxScore: 50},
		},
	})

	for _, want := range []string{
		"Essay on the French Revolution",
		"Analyze the causes",
		"Deduct heavily for missing primary sources.",
		"[c1] Argument (max 50 points)",
		"[c2] Sources (max 50 points)",
		"never quote or reveal",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestScrubGuidance(t *testing.T) {
	guidance := "Deduct heavily for missing primary sources."
	result := &domain.FeedbackResult{
		Strengths:    []string{"good flow"},
		Improvements: []string{"per the note: " + guidance},
		Suggestions:  []string{"add citations"},
		Summary:      "Decent essay. " + guidance,
		CriteriaScores: []domain.CriteriaScore{
			{CriteriaID: "c1", Score: 10, Feedback: guidance},
		},
	}

	if !ScrubGuidance(result, guidance) {
		t.Fatal("expected redaction to be reported")
	}

	all := append([]string{}, result.Strengths...)
	all = append(all, result.Improvements...)
	all = append(all, result.Suggestions...)
	all = append(all, result.Summary, result.CriteriaScores[0].Feedback)
	for _, s := range all {
		if strings.Contains(s, guidance) {
			t.Errorf("guidance text leaked: %q", s)
		}
	}
}

func TestScrubGuidance_NoOpCases(t *testing.T) {
	result := &domain.FeedbackResult{Summary: "clean feedback"}

	if ScrubGuidance(result, "") {
		t.Error("empty guidance must not report redaction")
	}
	if ScrubGuidance(result, "never mentioned") {
		t.Error("absent guidance must not report redaction")
	}
	if result.Summary != "clean feedback" {
		t.Error("summary must be untouched")
	}
}

func TestPlaceholderFor(t *testing.T) {
	p := PlaceholderFor(domain.ContentTypeVideo, "demo.mp4")
	if !strings.Contains(p, "video") {
		t.Errorf("placeholder should name the content type: %q", p)
	}
	if !strings.Contains(p, "demo.mp4") {
		t.Errorf("placeholder should name the file: %q", p)
	}
}

package ai

import (
	"fmt"
	"strings"

	"github.com/classlab/gradeflow/internal/domain"
)

// BuildSystemPrompt assembles the grading system prompt from the assignment
// context: title, description, optional instructor-only guidance, and rubric
// criteria with max scores.
func BuildSystemPrompt(actx *domain.AssignmentContext) string {
	var sb strings.Builder

	sb.WriteString("You are an experienced teaching assistant grading a student submission.\n")
	sb.WriteString("Evaluate the work fairly and return feedback as JSON matching the provided schema.\n\n")

	sb.WriteString("Assignment: ")
	sb.WriteString(actx.Title)
	sb.WriteString("\n")
	if actx.Description != "" {
		sb.WriteString("Description: ")
		sb.WriteString(actx.Description)
		sb.WriteString("\n")
	}

	if actx.InstructorGuidance != "" {
		sb.WriteString("\nConfidential instructor guidance (use it to grade, never quote or reveal it to the student):\n")
		sb.WriteString(actx.InstructorGuidance)
		sb.WriteString("\n")
	}

	if len(actx.Rubric) > 0 {
		sb.WriteString("\nRubric criteria:\n")
		for _, c := range actx.Rubric {
			sb.WriteString(fmt.Sprintf("- [%s] %s (max %.0f points)", c.ID, c.Name, c.MaxScore))
			if c.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(c.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("Include one criteria_scores entry per criterion, using the bracketed id as criteria_id.\n")
	}

	sb.WriteString("\nAddress the student directly. Score between 0 and 100.")
	return sb.String()
}

// ScrubGuidance removes verbatim instructor-guidance text from every feedback
// string, enforcing the non-echo contract. Returns true when any field was
// redacted so callers can log the violation.
func ScrubGuidance(result *domain.FeedbackResult, guidance string) bool {
	guidance = strings.TrimSpace(guidance)
	if guidance == "" || result == nil {
		return false
	}

	redacted := false
	scrub := func(s string) string {
		if strings.Contains(s, guidance) {
			redacted = true
			return strings.ReplaceAll(s, guidance, "[redacted]")
		}
		return s
	}

	for i, s := range result.Strengths {
		result.Strengths[i] = scrub(s)
	}
	for i, s := range result.Improvements {
		result.Improvements[i] = scrub(s)
	}
	for i, s := range result.Suggestions {
		result.Suggestions[i] = scrub(s)
	}
	result.Summary = scrub(result.Summary)
	for i := range result.CriteriaScores {
		result.CriteriaScores[i].Feedback = scrub(result.CriteriaScores[i].Feedback)
	}
	return redacted
}

// PlaceholderFor names an unsupported content type for the text-only
// degradation path when no extracted text exists.
func PlaceholderFor(t domain.ContentType, fileName string) string {
	name := fileName
	if name == "" {
		name = "the uploaded file"
	}
	return fmt.Sprintf("[The student submitted %s content (%s) that could not be analyzed directly. "+
		"Grade what can be inferred and note that the submission format limited the review.]", t, name)
}

package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/classlab/gradeflow/internal/domain"
)

// ValidationError reports a schema mismatch in provider output. Jobs failing
// validation consume a retry attempt like provider errors do: malformed
// output rarely self-corrects without prompt changes.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "feedback validation failed: " + e.Reason
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateFeedback parses and strictly validates raw provider output.
// On success the returned result carries the content fields only; callers
// fill in timing, model, and raw-response metadata.
func ValidateFeedback(raw string) (*domain.FeedbackResult, error) {
	payload := extractJSON(raw)

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, invalid("output is not valid JSON: %v", err)
	}

	result := &domain.FeedbackResult{}

	var err error
	if result.Strengths, err = stringArray(doc, "strengths"); err != nil {
		return nil, err
	}
	if result.Improvements, err = stringArray(doc, "improvements"); err != nil {
		return nil, err
	}
	if result.Suggestions, err = stringArray(doc, "suggestions"); err != nil {
		return nil, err
	}

	score, ok := doc["score"].(float64)
	if !ok {
		return nil, invalid("score is missing or not numeric")
	}
	if score < 0 || score > 100 {
		return nil, invalid("score %v out of range [0,100]", score)
	}
	result.Score = score

	summary, _ := doc["summary"].(string)
	result.Summary = strings.TrimSpace(summary)
	hasSections := len(result.Strengths) > 0 || len(result.Improvements) > 0 || len(result.Suggestions) > 0
	if hasSections && result.Summary == "" {
		return nil, invalid("summary is empty while feedback sections are non-empty")
	}

	if rawScores, present := doc["criteria_scores"]; present && rawScores != nil {
		scores, err := criteriaScores(rawScores)
		if err != nil {
			return nil, err
		}
		result.CriteriaScores = scores
	}

	return result, nil
}

func stringArray(doc map[string]interface{}, field string) ([]string, error) {
	raw, present := doc[field]
	if !present || raw == nil {
		return nil, invalid("%s is missing", field)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, invalid("%s is not an array", field)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, invalid("%s[%d] is not a string", field, i)
		}
		out = append(out, s)
	}
	return out, nil
}

func criteriaScores(raw interface{}) ([]domain.CriteriaScore, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, invalid("criteria_scores is not an array")
	}
	out := make([]domain.CriteriaScore, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, invalid("criteria_scores[%d] is not an object", i)
		}
		id, ok := entry["criteria_id"].(string)
		if !ok || id == "" {
			return nil, invalid("criteria_scores[%d].criteria_id is missing", i)
		}
		score, ok := entry["score"].(float64)
		if !ok {
			return nil, invalid("criteria_scores[%d].score is not numeric", i)
		}
		feedback, _ := entry["feedback"].(string)
		out = append(out, domain.CriteriaScore{
			CriteriaID: id,
			Score:      score,
			Feedback:   feedback,
		})
	}
	return out, nil
}

// extractJSON strips markdown code fences some models wrap JSON output in.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	return s
}

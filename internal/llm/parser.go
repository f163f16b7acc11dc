package llm

import (
	"encoding/json"
	"strings"

	"github.com/Veraticus/taxflow/internal/common"
)

// cleanMarkdownWrapper strips a ```json fence and any prose around the
// outermost JSON object.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	start := strings.IndexAny(content, "{[")
	end := strings.LastIndexAny(content, "}]")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

type outcomeEnvelope struct {
	Outcomes []rawOutcome `json:"outcomes"`
}

type rawOutcome struct {
	RecordID    string   `json:"record_id"`
	Outcome     string   `json:"outcome"`
	Citation    string   `json:"citation"`
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	Estimate    *float64 `json:"estimate,omitempty"`
}

// parseOutcomes decodes a batch response and matches outcomes to requests by
// record ID. Any count or ID mismatch fails the whole batch.
func parseOutcomes(content string, requests []Request) ([]Outcome, error) {
	cleaned := cleanMarkdownWrapper(content)

	var env outcomeEnvelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil || env.Outcomes == nil {
		// Some models answer with a bare array
		var arr []rawOutcome
		if arrErr := json.Unmarshal([]byte(cleaned), &arr); arrErr != nil {
			return nil, common.NewIntegrityError("failed to parse JSON response: %v", firstErr(err, arrErr))
		}
		env.Outcomes = arr
	}

	if len(env.Outcomes) != len(requests) {
		return nil, common.NewIntegrityError("batch response has %d outcomes for %d records", len(env.Outcomes), len(requests))
	}

	byID := make(map[string]rawOutcome, len(env.Outcomes))
	for _, raw := range env.Outcomes {
		if _, dup := byID[raw.RecordID]; dup {
			return nil, common.NewIntegrityError("batch response repeats record %q", raw.RecordID)
		}
		byID[raw.RecordID] = raw
	}

	outcomes := make([]Outcome, len(requests))
	for i, req := range requests {
		id := req.Record.ID
		raw, ok := byID[id]
		if !ok {
			return nil, common.NewIntegrityError("batch response has no outcome for record %q", id)
		}
		if strings.TrimSpace(raw.Outcome) == "" {
			return nil, common.NewIntegrityError("outcome for record %q is empty", id)
		}
		if raw.Confidence < 0 || raw.Confidence > 1 {
			return nil, common.NewIntegrityError("outcome for record %q has confidence %v outside [0,1]", id, raw.Confidence)
		}
		outcomes[i] = Outcome{
			RecordID:    id,
			Outcome:     strings.TrimSpace(raw.Outcome),
			Confidence:  raw.Confidence,
			Citation:    raw.Citation,
			Explanation: raw.Explanation,
			Estimate:    raw.Estimate,
		}
	}
	return outcomes, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// Reconciler applies parsed batch responses onto photo state. Applying the
// same response bytes twice leaves photos unchanged.
type Reconciler struct {
	photos database.PhotoRepository
}

// NewReconciler creates a reconciler over the given photo store.
func NewReconciler(photos database.PhotoRepository) *Reconciler {
	return &Reconciler{photos: photos}
}

// Result summarizes one reconciliation pass.
type Result struct {
	Applied            int // suggestions written to photos
	SkippedRecords     int // response records dropped (malformed, errored, truncated)
	SkippedSuggestions int // suggestions dropped (unknown photo, bad confidence)
}

// Reconcile parses the NDJSON response file and applies every valid
// suggestion. A malformed or truncated record costs only its own
// suggestions, sibling records are still processed.
func (r *Reconciler) Reconcile(ctx context.Context, format Format, data []byte) (*Result, error) {
	suggestions, skippedRecords := ParseSuggestions(format, data)

	result := &Result{SkippedRecords: skippedRecords}
	for _, s := range suggestions {
		if s.PhotoID == "" {
			result.SkippedSuggestions++
			continue
		}
		if !database.ValidConfidence(s.Confidence) {
			log.Printf("skipping suggestion for photo %s: invalid confidence %q", s.PhotoID, s.Confidence)
			result.SkippedSuggestions++
			continue
		}

		err := r.photos.ApplySuggestion(ctx, s)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				log.Printf("skipping suggestion for unknown photo %s", s.PhotoID)
				result.SkippedSuggestions++
				continue
			}
			return result, fmt.Errorf("applying suggestion for photo %s: %w", s.PhotoID, err)
		}
		result.Applied++
	}

	return result, nil
}

// analysisResponse is the JSON document the model was asked to produce.
type analysisResponse struct {
	Analysis  string                        `json:"analysis"`
	Deletions []database.DeletionSuggestion `json:"deletions"`
}

// ParseSuggestions extracts deletion suggestions from a provider response
// file. Returns the suggestions plus the number of records skipped.
func ParseSuggestions(format Format, data []byte) ([]database.DeletionSuggestion, int) {
	var suggestions []database.DeletionSuggestion
	skipped := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var content string
		var ok bool
		switch format {
		case FormatOpenAI:
			content, ok = openaiRecordContent(line)
		default:
			content, ok = geminiRecordContent(line)
		}
		if !ok {
			skipped++
			continue
		}

		var parsed analysisResponse
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			log.Printf("skipping response record: invalid analysis JSON: %v", err)
			skipped++
			continue
		}
		suggestions = append(suggestions, parsed.Deletions...)
	}

	return suggestions, skipped
}

// geminiResultRecord is one line of a Gemini batch result file.
type geminiResultRecord struct {
	Key      string `json:"key"`
	Response *struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func geminiRecordContent(line []byte) (string, bool) {
	var record geminiResultRecord
	if err := json.Unmarshal(line, &record); err != nil {
		log.Printf("skipping response record: %v", err)
		return "", false
	}
	if record.Error != nil {
		log.Printf("skipping response record %s: %s", record.Key, record.Error.Message)
		return "", false
	}
	if record.Response == nil || len(record.Response.Candidates) == 0 {
		return "", false
	}

	candidate := record.Response.Candidates[0]
	// truncated answers are unusable, the JSON document is cut off
	if candidate.FinishReason == "MAX_TOKENS" {
		log.Printf("skipping response record %s: output truncated", record.Key)
		return "", false
	}
	if len(candidate.Content.Parts) == 0 {
		return "", false
	}
	return candidate.Content.Parts[0].Text, true
}

// openaiResultRecord is one line of an OpenAI batch result file.
type openaiResultRecord struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func openaiRecordContent(line []byte) (string, bool) {
	var record openaiResultRecord
	if err := json.Unmarshal(line, &record); err != nil {
		log.Printf("skipping response record: %v", err)
		return "", false
	}
	if record.Error != nil {
		log.Printf("skipping response record %s: %s", record.CustomID, record.Error.Message)
		return "", false
	}
	if record.Response.Body.Error != nil {
		log.Printf("skipping response record %s: %s", record.CustomID, record.Response.Body.Error.Message)
		return "", false
	}
	if len(record.Response.Body.Choices) == 0 {
		return "", false
	}

	choice := record.Response.Body.Choices[0]
	if choice.FinishReason == "length" {
		log.Printf("skipping response record %s: output truncated", record.CustomID)
		return "", false
	}
	return choice.Message.Content, true
}

package batch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/database/mock"
)

func seededRepo(photoIDs ...string) *mock.MockRepository {
	repo := mock.NewMockRepository()
	group := "group_1"
	for _, id := range photoIDs {
		repo.AddPhoto(database.Photo{
			ID:      id,
			TakenAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			Status:  database.PhotoStatusGrouped,
			GroupID: &group,
		})
	}
	return repo
}

// geminiResultLine renders one result record whose model output carries the
// given deletions.
func geminiResultLine(t *testing.T, key string, finishReason string, deletions []database.DeletionSuggestion) string {
	t.Helper()
	analysis, err := json.Marshal(analysisResponse{Analysis: "reviewed", Deletions: deletions})
	if err != nil {
		t.Fatalf("failed to marshal analysis: %v", err)
	}
	record := map[string]any{
		"key": key,
		"response": map[string]any{
			"candidates": []map[string]any{
				{
					"content":      map[string]any{"parts": []map[string]any{{"text": string(analysis)}}},
					"finishReason": finishReason,
				},
			},
		},
	}
	line, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	return string(line)
}

func TestReconcileAppliesSuggestions(t *testing.T) {
	repo := seededRepo("p1", "p2", "p3")
	reconciler := NewReconciler(repo)

	data := geminiResultLine(t, "group_1", "STOP", []database.DeletionSuggestion{
		{PhotoID: "p2", Reason: "blurry duplicate", Confidence: "high"},
		{PhotoID: "p3", Reason: "eyes closed", Confidence: "medium"},
	}) + "\n"

	result, err := reconciler.Reconcile(context.Background(), FormatGemini, []byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 2 {
		t.Errorf("expected 2 applied suggestions, got %d", result.Applied)
	}

	photo, err := repo.GetPhoto(context.Background(), "p2")
	if err != nil {
		t.Fatalf("failed to load photo: %v", err)
	}
	if photo.SuggestionReason == nil || *photo.SuggestionReason != "blurry duplicate" {
		t.Errorf("expected suggestion reason on p2, got %v", photo.SuggestionReason)
	}
	if photo.SuggestionConfidence == nil || *photo.SuggestionConfidence != "high" {
		t.Errorf("expected confidence high on p2, got %v", photo.SuggestionConfidence)
	}
	if !photo.MarkedForDeletion {
		t.Error("expected p2 to be marked for deletion")
	}

	untouched, _ := repo.GetPhoto(context.Background(), "p1")
	if untouched.SuggestionReason != nil {
		t.Error("photo p1 must not receive a suggestion")
	}
	if untouched.MarkedForDeletion {
		t.Error("photo p1 must not be marked for deletion")
	}
}

func TestReconcileMarksSuggestedPhotosForDeletion(t *testing.T) {
	repo := seededRepo("p1")

	data := []byte(geminiResultLine(t, "group_1", "STOP", []database.DeletionSuggestion{
		{PhotoID: "p1", Reason: "blurry duplicate", Confidence: "high"},
	}) + "\n")

	if _, err := NewReconciler(repo).Reconcile(context.Background(), FormatGemini, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	photo, err := repo.GetPhoto(context.Background(), "p1")
	if err != nil {
		t.Fatalf("failed to load photo: %v", err)
	}
	if !photo.MarkedForDeletion {
		t.Error("applying a suggestion must mark the photo for deletion")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	repo := seededRepo("p1", "p2")
	reconciler := NewReconciler(repo)

	data := []byte(geminiResultLine(t, "group_1", "STOP", []database.DeletionSuggestion{
		{PhotoID: "p1", Reason: "test shot", Confidence: "high"},
	}) + "\n")

	if _, err := reconciler.Reconcile(context.Background(), FormatGemini, data); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	first, _ := repo.GetPhoto(context.Background(), "p1")

	if _, err := reconciler.Reconcile(context.Background(), FormatGemini, data); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	second, _ := repo.GetPhoto(context.Background(), "p1")

	if *first.SuggestionReason != *second.SuggestionReason ||
		*first.SuggestionConfidence != *second.SuggestionConfidence ||
		first.MarkedForDeletion != second.MarkedForDeletion {
		t.Error("re-running reconciliation on identical bytes changed photo state")
	}
}

func TestReconcileSkipsTruncatedRecord(t *testing.T) {
	repo := seededRepo("p1", "p2")
	reconciler := NewReconciler(repo)

	// truncated record first, healthy sibling second
	lines := []string{
		geminiResultLine(t, "group_1", "MAX_TOKENS", []database.DeletionSuggestion{
			{PhotoID: "p1", Reason: "should be ignored", Confidence: "high"},
		}),
		geminiResultLine(t, "group_2", "STOP", []database.DeletionSuggestion{
			{PhotoID: "p2", Reason: "duplicate", Confidence: "low"},
		}),
	}

	result, err := reconciler.Reconcile(context.Background(), FormatGemini, []byte(strings.Join(lines, "\n")+"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("expected 1 applied suggestion, got %d", result.Applied)
	}
	if result.SkippedRecords != 1 {
		t.Errorf("expected 1 skipped record, got %d", result.SkippedRecords)
	}

	p1, _ := repo.GetPhoto(context.Background(), "p1")
	if p1.SuggestionReason != nil {
		t.Error("truncated record must yield zero suggestions")
	}
	p2, _ := repo.GetPhoto(context.Background(), "p2")
	if p2.SuggestionReason == nil {
		t.Error("sibling record must still be applied")
	}
}

func TestReconcileSkipsMalformedLine(t *testing.T) {
	repo := seededRepo("p1")
	reconciler := NewReconciler(repo)

	data := "this is not json\n" +
		geminiResultLine(t, "group_1", "STOP", []database.DeletionSuggestion{
			{PhotoID: "p1", Reason: "redundant", Confidence: "high"},
		}) + "\n"

	result, err := reconciler.Reconcile(context.Background(), FormatGemini, []byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("expected 1 applied suggestion, got %d", result.Applied)
	}
	if result.SkippedRecords != 1 {
		t.Errorf("expected 1 skipped record, got %d", result.SkippedRecords)
	}
}

func TestReconcileSkipsUnknownPhoto(t *testing.T) {
	repo := seededRepo("p1")
	reconciler := NewReconciler(repo)

	data := geminiResultLine(t, "group_1", "STOP", []database.DeletionSuggestion{
		{PhotoID: "ghost", Reason: "hallucinated id", Confidence: "high"},
		{PhotoID: "p1", Reason: "duplicate", Confidence: "medium"},
	}) + "\n"

	result, err := reconciler.Reconcile(context.Background(), FormatGemini, []byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("expected 1 applied suggestion, got %d", result.Applied)
	}
	if result.SkippedSuggestions != 1 {
		t.Errorf("expected 1 skipped suggestion, got %d", result.SkippedSuggestions)
	}
}

func TestReconcileSkipsInvalidConfidence(t *testing.T) {
	repo := seededRepo("p1")
	reconciler := NewReconciler(repo)

	data := geminiResultLine(t, "group_1", "STOP", []database.DeletionSuggestion{
		{PhotoID: "p1", Reason: "duplicate", Confidence: "certain"},
	}) + "\n"

	result, err := reconciler.Reconcile(context.Background(), FormatGemini, []byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 0 {
		t.Errorf("expected 0 applied suggestions, got %d", result.Applied)
	}
	if result.SkippedSuggestions != 1 {
		t.Errorf("expected 1 skipped suggestion, got %d", result.SkippedSuggestions)
	}
}

func TestReconcileOpenAIFormat(t *testing.T) {
	repo := seededRepo("p1")
	reconciler := NewReconciler(repo)

	analysis, _ := json.Marshal(analysisResponse{
		Analysis:  "one near-duplicate",
		Deletions: []database.DeletionSuggestion{{PhotoID: "p1", Reason: "duplicate", Confidence: "high"}},
	})
	record := map[string]any{
		"custom_id": "group_1",
		"response": map[string]any{
			"status_code": 200,
			"body": map[string]any{
				"choices": []map[string]any{
					{
						"message":       map[string]any{"content": string(analysis)},
						"finish_reason": "stop",
					},
				},
			},
		},
	}
	line, _ := json.Marshal(record)

	result, err := reconciler.Reconcile(context.Background(), FormatOpenAI, append(line, '\n'))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("expected 1 applied suggestion, got %d", result.Applied)
	}
}

func TestReconcileOpenAITruncated(t *testing.T) {
	repo := seededRepo("p1")
	reconciler := NewReconciler(repo)

	record := map[string]any{
		"custom_id": "group_1",
		"response": map[string]any{
			"status_code": 200,
			"body": map[string]any{
				"choices": []map[string]any{
					{
						"message":       map[string]any{"content": `{"analysis": "cut off`},
						"finish_reason": "length",
					},
				},
			},
		},
	}
	line, _ := json.Marshal(record)

	result, err := reconciler.Reconcile(context.Background(), FormatOpenAI, append(line, '\n'))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 0 || result.SkippedRecords != 1 {
		t.Errorf("expected truncated record skipped, got %+v", result)
	}
}

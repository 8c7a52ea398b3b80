package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/database"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func photo(id string, offset time.Duration, embedding []float32) *database.Photo {
	return &database.Photo{
		ID:        id,
		TakenAt:   baseTime.Add(offset),
		Embedding: embedding,
		Status:    database.PhotoStatusEmbedded,
	}
}

func TestGroupPhotosBurstOfSimilarPhotos(t *testing.T) {
	// 5 photos within 2 minutes, all nearly identical embeddings
	var photos []*database.Photo
	for i := 0; i < 5; i++ {
		photos = append(photos, photo(
			fmt.Sprintf("p%d", i),
			time.Duration(i)*30*time.Second,
			[]float32{1, 0.01 * float32(i), 0},
		))
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Photos) != 5 {
		t.Errorf("expected group of 5, got %d", len(groups[0].Photos))
	}
	if groups[0].ID != "group_1" {
		t.Errorf("expected group id 'group_1', got '%s'", groups[0].ID)
	}
}

func TestGroupPhotosSimilarButHoursApart(t *testing.T) {
	// near-identical embeddings but 2 hours apart, never grouped
	photos := []*database.Photo{
		photo("a", 0, []float32{1, 0, 0}),
		photo("b", 2*time.Hour, []float32{1, 0.01, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %d", len(groups))
	}
}

func TestGroupPhotosDissimilarWithinWindow(t *testing.T) {
	photos := []*database.Photo{
		photo("a", 0, []float32{1, 0, 0}),
		photo("b", time.Minute, []float32{0, 1, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 0 {
		t.Fatalf("expected no groups for orthogonal embeddings, got %d", len(groups))
	}
}

func TestGroupPhotosPartition(t *testing.T) {
	// a larger mixed set, every photo appears in at most one group
	var photos []*database.Photo
	for i := 0; i < 20; i++ {
		emb := []float32{1, 0, 0}
		if i%3 == 0 {
			emb = []float32{0, 1, 0}
		}
		photos = append(photos, photo(
			fmt.Sprintf("p%d", i),
			time.Duration(i)*time.Minute,
			emb,
		))
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	seen := make(map[string]string)
	for _, g := range groups {
		for _, p := range g.Photos {
			if prev, ok := seen[p.ID]; ok {
				t.Errorf("photo %s in both %s and %s", p.ID, prev, g.ID)
			}
			seen[p.ID] = g.ID
		}
	}
}

func TestGroupPhotosThresholdMonotonicity(t *testing.T) {
	// raising the threshold never grows a group
	var photos []*database.Photo
	for i := 0; i < 10; i++ {
		photos = append(photos, photo(
			fmt.Sprintf("p%d", i),
			time.Duration(i)*20*time.Second,
			[]float32{1, float32(i) * 0.1, 0},
		))
	}

	sizesAt := func(threshold float64) int {
		engine := NewEngine(WithSimilarityThreshold(threshold))
		groups := engine.GroupPhotos(photos)
		if len(groups) == 0 {
			return 0
		}
		return len(groups[0].Photos)
	}

	prev := sizesAt(0.3)
	for _, threshold := range []float64{0.5, 0.7, 0.9, 0.99} {
		current := sizesAt(threshold)
		if current > prev {
			t.Errorf("threshold %f grouped %d photos, more than %d at lower threshold",
				threshold, current, prev)
		}
		prev = current
	}
}

func TestGroupPhotosWindowEdgeInclusive(t *testing.T) {
	// a photo taken exactly at the edge of the window still joins
	photos := []*database.Photo{
		photo("seed", 0, []float32{1, 0, 0}),
		photo("edge", 10*time.Minute, []float32{1, 0, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 1 || len(groups[0].Photos) != 2 {
		t.Fatalf("expected one group of 2 for exactly-at-edge photo, got %v", groups)
	}
}

func TestGroupPhotosWindowExceeded(t *testing.T) {
	photos := []*database.Photo{
		photo("seed", 0, []float32{1, 0, 0}),
		photo("late", 10*time.Minute+time.Second, []float32{1, 0, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 0 {
		t.Fatalf("expected no group just past the window edge, got %d", len(groups))
	}
}

func TestGroupPhotosSeedAnchored(t *testing.T) {
	// b is similar to seed a, c is similar to b but not to a.
	// seed-anchored grouping compares against a only, so c stays out.
	photos := []*database.Photo{
		photo("a", 0, []float32{1, 0, 0}),
		photo("b", time.Minute, []float32{0.75, 0.66, 0}),
		photo("c", 2*time.Minute, []float32{0, 1, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	for _, p := range groups[0].Photos {
		if p.ID == "c" {
			t.Error("photo c joined the group despite being dissimilar to the seed")
		}
	}
}

func TestGroupPhotosSkipsMissingEmbedding(t *testing.T) {
	photos := []*database.Photo{
		photo("a", 0, []float32{1, 0, 0}),
		photo("broken", time.Minute, nil),
		photo("b", 2*time.Minute, []float32{1, 0, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Photos) != 2 {
		t.Errorf("expected group of 2, got %d", len(groups[0].Photos))
	}
}

func TestGroupPhotosSkipsZeroCaptureTime(t *testing.T) {
	broken := &database.Photo{ID: "broken", Embedding: []float32{1, 0, 0}}
	photos := []*database.Photo{
		photo("a", 0, []float32{1, 0, 0}),
		photo("b", time.Minute, []float32{1, 0, 0}),
		broken,
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	for _, p := range groups[0].Photos {
		if p.ID == "broken" {
			t.Error("photo without capture time must not be grouped")
		}
	}
}

func TestGroupPhotosUnsortedInput(t *testing.T) {
	// engine must sort internally, input order must not matter
	photos := []*database.Photo{
		photo("late", 3*time.Minute, []float32{1, 0, 0}),
		photo("early", 0, []float32{1, 0, 0}),
		photo("middle", time.Minute, []float32{1, 0, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 1 || len(groups[0].Photos) != 3 {
		t.Fatalf("expected one group of 3, got %v", groups)
	}
	if groups[0].Photos[0].ID != "early" {
		t.Errorf("expected seed to be the earliest photo, got %s", groups[0].Photos[0].ID)
	}
}

func TestGroupPhotosSequentialNumbering(t *testing.T) {
	photos := []*database.Photo{
		photo("a1", 0, []float32{1, 0, 0}),
		photo("a2", time.Minute, []float32{1, 0, 0}),
		photo("b1", time.Hour, []float32{0, 1, 0}),
		photo("b2", time.Hour+time.Minute, []float32{0, 1, 0}),
	}

	engine := NewEngine()
	groups := engine.GroupPhotos(photos)

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].ID != "group_1" || groups[1].ID != "group_2" {
		t.Errorf("expected group_1 and group_2, got %s and %s", groups[0].ID, groups[1].ID)
	}
}

func TestGroupPhotosEmptyInput(t *testing.T) {
	engine := NewEngine()
	if groups := engine.GroupPhotos(nil); len(groups) != 0 {
		t.Errorf("expected no groups for empty input, got %d", len(groups))
	}
}

func TestNewEngineOptions(t *testing.T) {
	engine := NewEngine(WithTimeWindow(5*time.Minute), WithSimilarityThreshold(0.8))
	if engine.TimeWindow() != 5*time.Minute {
		t.Errorf("expected window 5m, got %v", engine.TimeWindow())
	}
	if engine.SimilarityThreshold() != 0.8 {
		t.Errorf("expected threshold 0.8, got %f", engine.SimilarityThreshold())
	}

	// invalid options fall back to defaults
	engine = NewEngine(WithTimeWindow(-time.Minute), WithSimilarityThreshold(0))
	if engine.TimeWindow() != DefaultTimeWindow {
		t.Errorf("expected default window, got %v", engine.TimeWindow())
	}
	if engine.SimilarityThreshold() != DefaultSimilarityThreshold {
		t.Errorf("expected default threshold, got %f", engine.SimilarityThreshold())
	}
}

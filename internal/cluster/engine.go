// Package cluster partitions embedded photos into groups of near-duplicates
// using capture-time proximity and embedding similarity.
package cluster

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/database"
)

const (
	// DefaultTimeWindow is how far apart two photos may be taken and still
	// land in the same group.
	DefaultTimeWindow = 10 * time.Minute
	// DefaultSimilarityThreshold is the minimum cosine similarity against
	// the group seed for a photo to join the group.
	DefaultSimilarityThreshold = 0.6
)

// Engine groups photos by time window and cosine similarity.
type Engine struct {
	timeWindow          time.Duration
	similarityThreshold float64
}

// Group is one cluster of similar photos. Only groups with at least two
// members are produced, a photo that matches nothing stays ungrouped.
type Group struct {
	ID     string
	Photos []*database.Photo
}

// Option configures the engine.
type Option func(*Engine)

// WithTimeWindow overrides the default time window.
func WithTimeWindow(w time.Duration) Option {
	return func(e *Engine) {
		if w > 0 {
			e.timeWindow = w
		}
	}
}

// WithSimilarityThreshold overrides the default similarity threshold.
func WithSimilarityThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.similarityThreshold = t
		}
	}
}

// NewEngine creates a clustering engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		timeWindow:          DefaultTimeWindow,
		similarityThreshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TimeWindow returns the configured time window.
func (e *Engine) TimeWindow() time.Duration {
	return e.timeWindow
}

// SimilarityThreshold returns the configured similarity threshold.
func (e *Engine) SimilarityThreshold() float64 {
	return e.similarityThreshold
}

// GroupPhotos partitions photos into groups. Photos are sorted by capture
// time; each unassigned photo in turn becomes the seed of a candidate group
// and every later photo within the time window whose embedding is similar
// enough to the seed joins it. Group membership is decided against the seed
// only, never against other members.
//
// Photos without an embedding or without a valid capture time are skipped
// and logged, one bad record never aborts a run. Groups are numbered
// group_1, group_2, ... in seed order.
func (e *Engine) GroupPhotos(photos []*database.Photo) []Group {
	candidates := make([]*database.Photo, 0, len(photos))
	for _, p := range photos {
		if !p.HasEmbedding() {
			log.Printf("skipping photo %s: no embedding", p.ID)
			continue
		}
		if p.TakenAt.IsZero() {
			log.Printf("skipping photo %s: no capture time", p.ID)
			continue
		}
		candidates = append(candidates, p)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TakenAt.Before(candidates[j].TakenAt)
	})

	assigned := make(map[string]bool, len(candidates))
	var groups []Group
	nextGroup := 1

	for i, seed := range candidates {
		if assigned[seed.ID] {
			continue
		}

		members := []*database.Photo{seed}
		for _, candidate := range candidates[i+1:] {
			diff := candidate.TakenAt.Sub(seed.TakenAt)
			// sorted input, nothing further can be in the window
			if diff > e.timeWindow {
				break
			}
			if assigned[candidate.ID] {
				continue
			}
			similarity := database.CosineSimilarity(seed.Embedding, candidate.Embedding)
			if similarity >= e.similarityThreshold {
				members = append(members, candidate)
			}
		}

		// singletons stay ungrouped
		if len(members) < 2 {
			continue
		}

		group := Group{
			ID:     fmt.Sprintf("group_%d", nextGroup),
			Photos: members,
		}
		nextGroup++
		for _, m := range members {
			assigned[m.ID] = true
		}
		groups = append(groups, group)
	}

	return groups
}

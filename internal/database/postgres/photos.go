package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/pgvector/pgvector-go"
)

const photoColumns = `id, taken_at, source_url, image_blob, embedding, status,
	group_id, suggestion_reason, suggestion_confidence, marked_for_deletion, created_at`

// CreatePhoto inserts a new photo record.
func (p *Pool) CreatePhoto(ctx context.Context, photo *database.Photo) error {
	var embedding any
	if photo.HasEmbedding() {
		embedding = pgvector.NewVector(photo.Embedding)
	}

	_, err := p.Exec(ctx, `
		INSERT INTO photos (id, taken_at, source_url, image_blob, embedding, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		photo.ID, photo.TakenAt, photo.SourceURL, photo.ImageBlob, embedding, photo.Status,
	)
	if err != nil {
		return fmt.Errorf("inserting photo %s: %w", photo.ID, err)
	}
	return nil
}

// GetPhoto loads a single photo by id.
func (p *Pool) GetPhoto(ctx context.Context, id string) (*database.Photo, error) {
	row := p.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM photos WHERE id = $1", photoColumns), id)
	photo, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("loading photo %s: %w", id, err)
	}
	return photo, nil
}

// ListPhotos returns photos filtered by status, ordered by taken_at ascending.
// An empty status returns all photos.
func (p *Pool) ListPhotos(ctx context.Context, status database.PhotoStatus, limit int) ([]*database.Photo, error) {
	query := fmt.Sprintf("SELECT %s FROM photos", photoColumns)
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY taken_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing photos: %w", err)
	}
	defer rows.Close()

	return scanPhotos(rows)
}

// ListPhotosForClustering returns embedded photos ordered by capture time.
// The clustering engine depends on this ordering to bound its window scan.
func (p *Pool) ListPhotosForClustering(ctx context.Context) ([]*database.Photo, error) {
	rows, err := p.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM photos
		WHERE embedding IS NOT NULL
		ORDER BY taken_at ASC`, photoColumns))
	if err != nil {
		return nil, fmt.Errorf("listing photos for clustering: %w", err)
	}
	defer rows.Close()

	return scanPhotos(rows)
}

// ListGroupedPhotos returns photos with a group assignment.
func (p *Pool) ListGroupedPhotos(ctx context.Context) ([]*database.Photo, error) {
	rows, err := p.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM photos
		WHERE group_id IS NOT NULL
		ORDER BY group_id, taken_at ASC`, photoColumns))
	if err != nil {
		return nil, fmt.Errorf("listing grouped photos: %w", err)
	}
	defer rows.Close()

	return scanPhotos(rows)
}

// UpdatePhotoEmbedding stores the embedding vector and advances the photo status.
func (p *Pool) UpdatePhotoEmbedding(ctx context.Context, id string, embedding []float32) error {
	result, err := p.Exec(ctx, `
		UPDATE photos SET embedding = $1, status = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), database.PhotoStatusEmbedded, id,
	)
	if err != nil {
		return fmt.Errorf("updating embedding for photo %s: %w", id, err)
	}
	return requireRow(result, id)
}

// UpdatePhotoStatus sets the pipeline status of a photo.
func (p *Pool) UpdatePhotoStatus(ctx context.Context, id string, status database.PhotoStatus) error {
	result, err := p.Exec(ctx, "UPDATE photos SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("updating status for photo %s: %w", id, err)
	}
	return requireRow(result, id)
}

// SetPhotoGroup assigns or clears the group id of a photo and keeps the
// status in step: assigned photos become grouped, unassigned ones fall
// back to embedded.
func (p *Pool) SetPhotoGroup(ctx context.Context, id string, groupID *string) error {
	result, err := p.Exec(ctx, `
		UPDATE photos
		SET group_id = $1,
		    status = CASE
		        WHEN $1::text IS NOT NULL THEN 'grouped'
		        WHEN status = 'grouped' THEN 'embedded'
		        ELSE status
		    END
		WHERE id = $2`, groupID, id)
	if err != nil {
		return fmt.Errorf("setting group for photo %s: %w", id, err)
	}
	return requireRow(result, id)
}

// ClearGroups removes all group assignments and suggestion fields so a new
// clustering run starts from a clean slate.
func (p *Pool) ClearGroups(ctx context.Context) error {
	_, err := p.Exec(ctx, `
		UPDATE photos
		SET group_id = NULL,
		    suggestion_reason = NULL,
		    suggestion_confidence = NULL,
		    marked_for_deletion = FALSE,
		    status = CASE WHEN status = 'grouped' THEN 'embedded' ELSE status END
		WHERE group_id IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("clearing photo groups: %w", err)
	}
	return nil
}

// ApplySuggestion records a deletion suggestion on a photo and marks it
// for deletion in the same update. Re-applying the same suggestion is a
// no-op at the data level, so reconciliation is idempotent.
func (p *Pool) ApplySuggestion(ctx context.Context, s database.DeletionSuggestion) error {
	result, err := p.Exec(ctx, `
		UPDATE photos
		SET suggestion_reason = $1, suggestion_confidence = $2, marked_for_deletion = TRUE
		WHERE id = $3`,
		s.Reason, s.Confidence, s.PhotoID,
	)
	if err != nil {
		return fmt.Errorf("applying suggestion to photo %s: %w", s.PhotoID, err)
	}
	return requireRow(result, s.PhotoID)
}

// SetMarkedForDeletion records the user's decision on a suggestion.
// Rejecting a suggestion also clears it so the photo is clean for the next run.
func (p *Pool) SetMarkedForDeletion(ctx context.Context, id string, marked bool) error {
	var result sql.Result
	var err error
	if marked {
		result, err = p.Exec(ctx, "UPDATE photos SET marked_for_deletion = TRUE WHERE id = $1", id)
	} else {
		result, err = p.Exec(ctx,
			"UPDATE photos SET marked_for_deletion = FALSE, suggestion_reason = NULL, suggestion_confidence = NULL WHERE id = $1",
			id)
	}
	if err != nil {
		return fmt.Errorf("marking photo %s: %w", id, err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows for %s: %w", id, err)
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*database.Photo, error) {
	var photo database.Photo

	// embedding is NULL until the embedding step has run
	var rawEmbedding sql.Null[pgvector.Vector]

	err := row.Scan(
		&photo.ID,
		&photo.TakenAt,
		&photo.SourceURL,
		&photo.ImageBlob,
		&rawEmbedding,
		&photo.Status,
		&photo.GroupID,
		&photo.SuggestionReason,
		&photo.SuggestionConfidence,
		&photo.MarkedForDeletion,
		&photo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rawEmbedding.Valid {
		photo.Embedding = rawEmbedding.V.Slice()
	}
	return &photo, nil
}

func scanPhotos(rows *sql.Rows) ([]*database.Photo, error) {
	var photos []*database.Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning photo row: %w", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating photo rows: %w", err)
	}
	return photos, nil
}

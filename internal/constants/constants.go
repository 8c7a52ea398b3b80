// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Handler constants
const (
	// DefaultPhotoPageSize is the default number of photos returned by list endpoints
	DefaultPhotoPageSize = 100

	// MaxPhotoPageSize is the maximum number of photos returned by list endpoints
	MaxPhotoPageSize = 1000

	// MaxUploadSize is the maximum photo upload size in bytes (100MB)
	MaxUploadSize = 100 << 20
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for SSE event channels
	EventChannelBuffer = 100
)

// Package batch turns photo groups into bulk inference requests, tracks the
// jobs submitted to the external service and applies the results it returns.
package batch

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/lens-cleaner/internal/cluster"
)

// ErrNoEligibleGroups is returned by Build when no group qualifies for
// analysis, either because none exist or all were filtered out.
var ErrNoEligibleGroups = errors.New("no groups eligible for batch analysis")

// Provider formats supported by the request builder.
type Format string

const (
	FormatGemini Format = "gemini"
	FormatOpenAI Format = "openai"
)

const (
	// DefaultMaxGroupSize caps how many photos a single request record may
	// carry. Larger groups are excluded whole, never split.
	DefaultMaxGroupSize = 100
	// maxImageDimension is the resize bound applied before inlining images.
	maxImageDimension = 800
)

// Builder renders photo groups into the newline-delimited request payload
// the external batch service consumes. One record per group.
type Builder struct {
	format          Format
	model           string
	temperature     float64
	maxOutputTokens int
	maxGroupSize    int
}

// BuilderOption configures the builder.
type BuilderOption func(*Builder)

// WithMaxGroupSize overrides the group size cap.
func WithMaxGroupSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxGroupSize = n
		}
	}
}

// WithGenerationLimits overrides temperature and output token budget.
func WithGenerationLimits(temperature float64, maxOutputTokens int) BuilderOption {
	return func(b *Builder) {
		if temperature > 0 {
			b.temperature = temperature
		}
		if maxOutputTokens > 0 {
			b.maxOutputTokens = maxOutputTokens
		}
	}
}

// NewBuilder creates a request builder for the given provider format and model.
func NewBuilder(format Format, model string, opts ...BuilderOption) *Builder {
	b := &Builder{
		format:          format,
		model:           model,
		temperature:     0.1,
		maxOutputTokens: 4096,
		maxGroupSize:    DefaultMaxGroupSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Payload is a rendered batch request file plus bookkeeping about what
// went into it.
type Payload struct {
	JSONL         []byte
	Requests      int      // number of request records (one per group)
	PhotoIDs      []string // photos covered by the payload
	SkippedGroups []string // groups excluded for exceeding the size cap
}

// Build renders the groups into a JSONL payload. Groups above the size cap
// are excluded entirely with a warning, singleton groups never reach the
// payload. Returns an error only when nothing at all could be rendered.
func (b *Builder) Build(groups []cluster.Group) (*Payload, error) {
	payload := &Payload{}
	var buf bytes.Buffer

	for _, group := range groups {
		if len(group.Photos) < 2 {
			continue
		}
		if len(group.Photos) > b.maxGroupSize {
			log.Printf("skipping group %s: %d photos exceeds cap of %d",
				group.ID, len(group.Photos), b.maxGroupSize)
			payload.SkippedGroups = append(payload.SkippedGroups, group.ID)
			continue
		}

		record, photoIDs, err := b.renderGroup(group)
		if err != nil {
			return nil, fmt.Errorf("rendering group %s: %w", group.ID, err)
		}
		if record == nil {
			continue
		}

		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("marshaling record for group %s: %w", group.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')

		payload.Requests++
		payload.PhotoIDs = append(payload.PhotoIDs, photoIDs...)
	}

	if payload.Requests == 0 {
		return nil, ErrNoEligibleGroups
	}

	payload.JSONL = buf.Bytes()
	return payload, nil
}

// renderGroup produces one request record. Photos without image bytes are
// dropped from the record; if fewer than two remain the group is skipped.
func (b *Builder) renderGroup(group cluster.Group) (any, []string, error) {
	type inlineImage struct {
		photoID string
		jpeg    []byte
	}

	var images []inlineImage
	for _, photo := range group.Photos {
		if len(photo.ImageBlob) == 0 {
			log.Printf("skipping photo %s in group %s: no image data", photo.ID, group.ID)
			continue
		}
		resized, err := encodeForAnalysis(photo.ImageBlob, maxImageDimension)
		if err != nil {
			log.Printf("skipping photo %s in group %s: %v", photo.ID, group.ID, err)
			continue
		}
		images = append(images, inlineImage{photoID: photo.ID, jpeg: resized})
	}

	if len(images) < 2 {
		return nil, nil, nil
	}

	photoIDs := make([]string, 0, len(images))
	for _, img := range images {
		photoIDs = append(photoIDs, img.photoID)
	}

	switch b.format {
	case FormatOpenAI:
		var content []map[string]any
		for _, img := range images {
			content = append(content, map[string]any{
				"type": "text",
				"text": photoTag(img.photoID, group.ID),
			})
			content = append(content, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url":    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.jpeg),
					"detail": "low",
				},
			})
		}
		content = append(content, map[string]any{
			"type": "text",
			"text": closingInstruction(len(images)),
		})

		record := openaiRecord{
			CustomID: group.ID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: openaiRecordBody{
				Model: b.model,
				Messages: []map[string]any{
					{"role": "system", "content": systemPrompt},
					{"role": "user", "content": content},
				},
				ResponseFormat: map[string]any{"type": "json_object"},
				Temperature:    b.temperature,
				MaxTokens:      b.maxOutputTokens,
			},
		}
		return record, photoIDs, nil

	default:
		parts := []geminiPart{{Text: systemPrompt}}
		for _, img := range images {
			parts = append(parts, geminiPart{Text: photoTag(img.photoID, group.ID)})
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MIMEType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(img.jpeg),
			}})
		}
		parts = append(parts, geminiPart{Text: closingInstruction(len(images))})

		record := geminiRecord{
			Key: group.ID,
			Request: geminiRequest{
				Contents: []geminiContent{{Parts: parts}},
				GenerationConfig: geminiGenerationConfig{
					Temperature:      b.temperature,
					MaxOutputTokens:  b.maxOutputTokens,
					ResponseMIMEType: "application/json",
					ResponseSchema:   responseSchema,
				},
			},
		}
		return record, photoIDs, nil
	}
}

// geminiRecord is one line of a Gemini batch request file.
type geminiRecord struct {
	Key     string        `json:"key"`
	Request geminiRequest `json:"request"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generation_config"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	MaxOutputTokens  int            `json:"max_output_tokens"`
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

// openaiRecord is one line of an OpenAI batch request file.
type openaiRecord struct {
	CustomID string           `json:"custom_id"`
	Method   string           `json:"method"`
	URL      string           `json:"url"`
	Body     openaiRecordBody `json:"body"`
}

type openaiRecordBody struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	ResponseFormat map[string]any   `json:"response_format"`
	Temperature    float64          `json:"temperature"`
	MaxTokens      int              `json:"max_tokens"`
}

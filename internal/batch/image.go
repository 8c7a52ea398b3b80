package batch

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// attachmentJPEGQuality is the encode quality for inlined photos. Groups
// carry many images per record, so size matters more than fidelity here.
const attachmentJPEGQuality = 85

// encodeForAnalysis converts a stored photo blob into the JPEG attached to
// an analysis request. Images whose longer edge exceeds maxEdge are scaled
// down, keeping the aspect ratio. PNG and BMP inputs are converted.
func encodeForAnalysis(data []byte, maxEdge int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding photo: %w", err)
	}

	bounds := img.Bounds()
	longer := bounds.Dx()
	if bounds.Dy() > longer {
		longer = bounds.Dy()
	}
	if longer > maxEdge {
		scale := float64(maxEdge) / float64(longer)
		scaled := image.NewRGBA(image.Rect(0, 0,
			int(float64(bounds.Dx())*scale), int(float64(bounds.Dy())*scale)))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: attachmentJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding photo attachment: %w", err)
	}
	return buf.Bytes(), nil
}

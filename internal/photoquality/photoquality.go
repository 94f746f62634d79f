package photoquality

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// Baseline usability thresholds for a verification photo.
const (
	MinDimensionPx = 400
	MinAspectRatio = 0.6
	MaxAspectRatio = 1.2
	MinPayloadSize = 50000 // bytes; anything smaller is implausible for a real photo
)

// Verdict is the outcome of screening one captured photo. Issues and
// Suggestions are index-aligned: each issue carries a remediation hint.
type Verdict struct {
	Acceptable  bool     `json:"acceptable"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
}

// Assess screens a captured photo for baseline usability. It is a
// heuristic gate, not biometric verification: it never attempts identity
// matching, only rejects captures too degraded to serve as evidence.
// A corrupt or unreadable image is an issue on the verdict, not an error.
func Assess(photo []byte) Verdict {
	v := Verdict{}

	img, err := imaging.Decode(bytes.NewReader(photo))
	if err != nil {
		v.Issues = append(v.Issues, "Photo could not be decoded")
		v.Suggestions = append(v.Suggestions, "Retake the photo and try again")
		return v
	}

	bounds := img.Bounds()
	v.Width, v.Height = bounds.Dx(), bounds.Dy()

	if v.Width < MinDimensionPx || v.Height < MinDimensionPx {
		v.Issues = append(v.Issues, "Photo resolution is too low")
		v.Suggestions = append(v.Suggestions, "Ensure good lighting and hold camera steady")
	}

	aspectRatio := float64(v.Width) / float64(v.Height)
	if aspectRatio < MinAspectRatio || aspectRatio > MaxAspectRatio {
		v.Issues = append(v.Issues, "Photo aspect ratio is not ideal")
		v.Suggestions = append(v.Suggestions, "Hold phone in portrait orientation")
	}

	if len(photo) < MinPayloadSize {
		v.Issues = append(v.Issues, "Photo file size is too small")
		v.Suggestions = append(v.Suggestions, "Move closer to camera or improve lighting")
	}

	v.Acceptable = len(v.Issues) == 0
	return v
}

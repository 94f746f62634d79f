package qrtoken

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultImageSize is large enough for phone cameras to decode reliably.
const DefaultImageSize = 300

// Render encodes the token payload as a PNG QR image with medium error
// correction. size is the square edge in pixels; values below the default
// are bumped up. Encoding failure indicates a bug or resource exhaustion,
// not a student-side problem, and surfaces as an error.
func Render(token CheckInToken, size int) ([]byte, error) {
	if size < DefaultImageSize {
		size = DefaultImageSize
	}
	png, err := qrcode.Encode(token.Payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qrtoken: encode image: %w", err)
	}
	return png, nil
}

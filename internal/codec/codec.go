package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrDecode reports an encoded string that does not conform to the
// data-URI envelope this package produces.
var ErrDecode = errors.New("codec: malformed data URI")

const base64Marker = ";base64,"

// Encode converts a binary payload into a text-safe data URI. The result
// round-trips exactly through Decode, including for empty payloads.
func Encode(payload []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + base64Marker + base64.StdEncoding.EncodeToString(payload)
}

// Decode converts a data URI produced by Encode back into the original
// bytes.
func Decode(encoded string) ([]byte, error) {
	if !strings.HasPrefix(encoded, "data:") {
		return nil, fmt.Errorf("%w: missing data: prefix", ErrDecode)
	}
	marker := strings.Index(encoded, base64Marker)
	if marker < 0 {
		return nil, fmt.Errorf("%w: missing base64 marker", ErrDecode)
	}
	payload, err := base64.StdEncoding.DecodeString(encoded[marker+len(base64Marker):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return payload, nil
}

// MimeType extracts the MIME type from a data URI produced by Encode.
func MimeType(encoded string) (string, error) {
	if !strings.HasPrefix(encoded, "data:") {
		return "", fmt.Errorf("%w: missing data: prefix", ErrDecode)
	}
	marker := strings.Index(encoded, base64Marker)
	if marker < 0 {
		return "", fmt.Errorf("%w: missing base64 marker", ErrDecode)
	}
	return encoded[len("data:"):marker], nil
}

// IsImage reports whether the MIME type should go through image
// preprocessing before encoding.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// PreprocessImage downscales an image payload so its width does not exceed
// maxWidth (aspect ratio preserved, no resize if already narrower) and
// re-encodes it as JPEG at the given quality (1-100). Lossy and applied
// exactly once, before Encode. Non-image MIME types and payloads that fail
// to decode are returned unchanged.
func PreprocessImage(payload []byte, mimeType string, maxWidth, quality int) []byte {
	if !IsImage(mimeType) || maxWidth <= 0 {
		return payload
	}
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return payload
	}
	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return payload
	}
	return buf.Bytes()
}

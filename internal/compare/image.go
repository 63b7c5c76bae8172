package compare

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	// Decoders for the image formats notebooks embed.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// compareImagePayload compares two base64 image payloads through decoding,
// so encoding-only differences (compression level, chunk layout) do not fail
// the comparison. When either payload cannot be decoded, raw bytes must
// match. Returns ok plus a short description of the difference.
func compareImagePayload(refB64, testB64 string) (bool, string) {
	refBytes, refErr := decodeBase64(refB64)
	testBytes, testErr := decodeBase64(testB64)
	if refErr != nil || testErr != nil {
		// Not actually base64: compare the raw strings.
		if refB64 == testB64 {
			return true, ""
		}
		return false, "payloads differ (not base64)"
	}

	refImg, _, refDecErr := image.Decode(bytes.NewReader(refBytes))
	testImg, _, testDecErr := image.Decode(bytes.NewReader(testBytes))
	if refDecErr != nil || testDecErr != nil {
		// No canonical form available: raw bytes must match.
		if bytes.Equal(refBytes, testBytes) {
			return true, ""
		}
		return false, "payload bytes differ (undecodable image)"
	}

	rb, tb := refImg.Bounds(), testImg.Bounds()
	if rb.Dx() != tb.Dx() || rb.Dy() != tb.Dy() {
		return false, fmt.Sprintf("dimensions differ: %dx%d vs %dx%d", rb.Dx(), rb.Dy(), tb.Dx(), tb.Dy())
	}

	for y := 0; y < rb.Dy(); y++ {
		for x := 0; x < rb.Dx(); x++ {
			r1, g1, b1, a1 := refImg.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			r2, g2, b2, a2 := testImg.At(tb.Min.X+x, tb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false, fmt.Sprintf("pixels differ at (%d, %d)", x, y)
			}
		}
	}
	return true, ""
}

// decodeBase64 accepts standard encoding with or without embedded newlines.
func decodeBase64(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(clean)
}

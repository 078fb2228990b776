package dish

import (
	"encoding/base64"
	"strings"

	"github.com/pageza/nibble/backend/internal/errortypes"
)

// queryImage is a validated photo: the decoded bytes and the base64 text they
// came from, without any data URL prefix.
type queryImage struct {
	data    []byte
	encoded string
}

// decodeImage accepts standard base64 with or without padding, optionally
// wrapped in a data URL.
func decodeImage(imageB64 string) (queryImage, error) {
	s := strings.TrimSpace(imageB64)
	if s == "" {
		return queryImage{}, &errortypes.InvalidInputError{Field: "image_b64", Message: "is required"}
	}

	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return queryImage{}, &errortypes.InvalidInputError{Field: "image_b64", Message: "data URL must be base64 encoded"}
		}
		s = s[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(s)
		if rawErr != nil {
			return queryImage{}, &errortypes.InvalidInputError{Field: "image_b64", Message: "is not valid base64", Err: err}
		}
	}
	if len(data) == 0 {
		return queryImage{}, &errortypes.InvalidInputError{Field: "image_b64", Message: "decodes to no data"}
	}
	return queryImage{data: data, encoded: s}, nil
}

// excerpt returns at most n leading characters of s.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

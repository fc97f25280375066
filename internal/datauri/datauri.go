// Package datauri encodes and decodes base64 data URIs
// ("data:<mime>;base64,<payload>").
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const prefix = "data:"

var ErrEmpty = errors.New("empty data uri")

func Encode(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func IsDataURI(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), prefix)
}

// Split returns the mime type and the still-encoded payload. A bare base64
// string is accepted and reported with fallbackMime.
func Split(value, fallbackMime string) (mimeType string, payload string, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", ErrEmpty
	}
	if !strings.HasPrefix(value, prefix) {
		return fallbackMime, value, nil
	}

	meta, payload, ok := strings.Cut(value, ",")
	if !ok {
		return "", "", errors.New("invalid data uri")
	}
	meta = strings.TrimPrefix(meta, prefix)
	mimeType = strings.TrimSpace(strings.Split(meta, ";")[0])
	if mimeType == "" {
		mimeType = fallbackMime
	}
	return mimeType, payload, nil
}

func Decode(value, fallbackMime string) (mimeType string, data []byte, err error) {
	mimeType, payload, err := Split(value, fallbackMime)
	if err != nil {
		return "", nil, err
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mimeType, data, nil
}

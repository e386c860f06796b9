package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/rainbowcity/rainbow/internal/conversation"
)

// imagePart turns the image_data field into a content part. It accepts an
// http(s) URL, a data URI, or bare base64 whose type is sniffed.
func imagePart(data string) (conversation.ContentPart, error) {
	data = strings.TrimSpace(data)
	lower := strings.ToLower(data)

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return conversation.ImagePart(data), nil
	case strings.HasPrefix(lower, "data:"):
		if !strings.HasPrefix(lower, "data:image/") || !strings.Contains(lower, ";base64,") {
			return conversation.ContentPart{}, fmt.Errorf("image_data must be a base64 image data URI")
		}
		return conversation.ImagePart(data), nil
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return conversation.ContentPart{}, fmt.Errorf("image_data is not valid base64: %w", err)
	}
	mime := http.DetectContentType(raw)
	if !strings.HasPrefix(mime, "image/") {
		return conversation.ContentPart{}, fmt.Errorf("image_data is %s, not an image", mime)
	}
	return conversation.ImagePart("data:" + mime + ";base64," + data), nil
}

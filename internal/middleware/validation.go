package middleware

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContentLength bounds message text.
	MaxContentLength = 100000
	// MaxAttachmentBytes bounds a decoded image attachment.
	MaxAttachmentBytes = 5 * 1024 * 1024
	// MaxAttachments bounds attachments per message.
	MaxAttachments = 10
	// MaxTitleLength bounds conversation titles.
	MaxTitleLength = 256
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ValidateMessageContent validates message content. Empty content is
// allowed; callers treat it as a no-op.
func ValidateMessageContent(content string) error {
	if len(content) > MaxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateAttachments validates the image references of a message.
func ValidateAttachments(refs []string) error {
	if len(refs) > MaxAttachments {
		return errors.New("too many attachments")
	}
	for _, ref := range refs {
		if err := ValidateAttachment(ref); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAttachment accepts a base64 data URI of a supported image type
// no larger than MaxAttachmentBytes, or an http(s) URL.
func ValidateAttachment(ref string) error {
	if strings.HasPrefix(ref, "data:") {
		return validateDataURI(ref)
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("attachment must be an image data URI or http(s) URL")
	}
	return nil
}

func validateDataURI(ref string) error {
	header, data, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return errors.New("malformed data URI")
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return errors.New("data URI must be base64 encoded")
	}
	if !allowedImageTypes[strings.ToLower(mediaType)] {
		return errors.New("unsupported image type")
	}
	if base64.StdEncoding.DecodedLen(len(data)) > MaxAttachmentBytes+2 {
		return errors.New("image exceeds maximum size")
	}
	n, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return errors.New("data URI is not valid base64")
	}
	if len(n) > MaxAttachmentBytes {
		return errors.New("image exceeds maximum size")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateCredential validates an API key before it is stored.
func ValidateCredential(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key cannot be empty")
	}
	if len(key) > 512 || strings.ContainsAny(key, " \t\r\n") {
		return errors.New("api key is malformed")
	}
	return nil
}

package model

import "strings"

const fileTokenPrefix = "file:"

// FileRef is the stable reference returned by the upload service.
type FileRef struct {
	ReferenceID string `json:"reference_id"`
	URL         string `json:"url"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Token returns the opaque answer value stored for a file_upload question.
func (r FileRef) Token() string {
	return fileTokenPrefix + r.ReferenceID
}

// ParseFileToken extracts the reference id from a stored file answer.
func ParseFileToken(value string) (string, bool) {
	if !strings.HasPrefix(value, fileTokenPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(value, fileTokenPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAnswersKey returns the hash holding a session's buffered answers
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// SessionSeqKey returns the counter ordering a session's answer edits
func (r *CacheKeyStruct) SessionSeqKey(sessionID string) string {
	return fmt.Sprintf("session:%s:seq", sessionID)
}

// SessionClosedKey returns the flag set once a session stops accepting edits
func (r *CacheKeyStruct) SessionClosedKey(sessionID string) string {
	return fmt.Sprintf("session:%s:closed", sessionID)
}

// ExamPaperKey returns the cache key for an exam's participant paper
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

var CacheKey = NewCacheKeyStruct()

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/stemsi/examcore/internal/config"
	"github.com/stemsi/examcore/internal/model"
)

// MediaService is the local-disk upload service. A reference is confirmed once its
// file has been fully written and renamed into place. Files are only served through
// the session-scoped download routes; the reference alone grants nothing.
type MediaService struct {
	cfg *config.Config
}

// NewMediaService creates a new MediaService.
func NewMediaService(cfg *config.Config) *MediaService {
	return &MediaService{cfg: cfg}
}

// Store writes the upload under a fresh reference id.
func (s *MediaService) Store(ctx context.Context, u Upload) (model.FileRef, error) {
	if u.Size > s.cfg.MaxUploadBytes {
		return model.FileRef{}, ErrUploadRejected
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return model.FileRef{}, fmt.Errorf("create upload dir: %w", err)
	}

	id := uuid.New().String()
	tmp, err := os.CreateTemp(s.cfg.UploadDir, ".upload-*")
	if err != nil {
		return model.FileRef{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// Read one byte past the limit to detect oversized bodies with a lying size.
	n, err := io.Copy(tmp, io.LimitReader(u.Body, s.cfg.MaxUploadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return model.FileRef{}, fmt.Errorf("write file: %w", err)
	}
	if n > s.cfg.MaxUploadBytes {
		return model.FileRef{}, ErrUploadRejected
	}
	if err := ctx.Err(); err != nil {
		return model.FileRef{}, err
	}

	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return model.FileRef{}, fmt.Errorf("commit file: %w", err)
	}

	return model.FileRef{ReferenceID: id, SizeBytes: n}, nil
}

// Open returns a stored file for reading. Only committed references resolve; temp
// files of uploads in flight never do.
func (s *MediaService) Open(_ context.Context, referenceID string) (io.ReadSeekCloser, error) {
	if _, err := uuid.Parse(referenceID); err != nil {
		return nil, ErrFileNotFound
	}
	f, err := os.Open(s.path(referenceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file. Unknown references are ignored.
func (s *MediaService) Delete(_ context.Context, referenceID string) error {
	if _, err := uuid.Parse(referenceID); err != nil {
		return nil
	}
	if err := os.Remove(s.path(referenceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Confirmed reports whether referenceID names a fully stored file.
func (s *MediaService) Confirmed(_ context.Context, referenceID string) (bool, error) {
	if _, err := uuid.Parse(referenceID); err != nil {
		return false, nil
	}
	info, err := os.Stat(s.path(referenceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *MediaService) path(referenceID string) string {
	return filepath.Join(s.cfg.UploadDir, referenceID)
}

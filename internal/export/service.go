package export

import (
	"context"
	"fmt"
	"time"
)

// ObjectStore persists exported files and hands out time-limited links.
type ObjectStore interface {
	Put(ctx context.Context, key string, result *Result) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Service renders board exports.
type Service struct {
	objects ObjectStore
	linkTTL time.Duration
	pdf     func(ctx context.Context, html string) ([]byte, error)
}

// NewService creates an export service. objects may be nil, in which case
// exports can only be streamed.
func NewService(objects ObjectStore, linkTTL time.Duration) *Service {
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	return &Service{objects: objects, linkTTL: linkTTL, pdf: renderPDF}
}

// Export renders board in the requested format.
func (s *Service) Export(ctx context.Context, board Board, format Format) (*Result, error) {
	if board.ExportedAt.IsZero() {
		board.ExportedAt = time.Now()
	}

	switch format {
	case FormatPDF:
		html, err := RenderBoardHTML(board)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: exportFilename(board, format),
			MimeType: "application/pdf",
		}, nil
	case FormatMarkdown:
		return &Result{
			Data:     RenderMarkdown(board),
			Filename: exportFilename(board, format),
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// CanPublish reports whether an object store is configured.
func (s *Service) CanPublish() bool {
	return s != nil && s.objects != nil
}

// Publish uploads result under the board's prefix and returns a presigned
// download URL.
func (s *Service) Publish(ctx context.Context, boardID string, result *Result) (string, error) {
	if !s.CanPublish() {
		return "", ErrStorageUnavailable
	}
	key := fmt.Sprintf("boards/%s/%d-%s", boardID, time.Now().UTC().Unix(), result.Filename)
	if err := s.objects.Put(ctx, key, result); err != nil {
		return "", err
	}
	return s.objects.PresignedURL(ctx, key, s.linkTTL)
}

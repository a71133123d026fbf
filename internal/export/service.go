package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service renders board snapshots and optionally archives them.
type Service struct {
	archive *Archive
	pdf     renderFunc
	docx    renderFunc
	now     func() time.Time
	log     *slog.Logger
}

// NewService creates a new export service. archive may be nil.
func NewService(archive *Archive, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		archive: archive,
		pdf:     renderPDF,
		docx:    renderDOCX,
		now:     time.Now,
		log:     log.With("component", "export"),
	}
}

// Export renders board in the requested format.
func (s *Service) Export(ctx context.Context, board Board, format Format) (*Result, error) {
	if board.ExportedAt.IsZero() {
		board.ExportedAt = s.now().UTC()
	}
	normalize(&board)

	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(board, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode board: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(board.Name) + ".json",
			MimeType: "application/json",
		}, nil
	case FormatPDF, FormatDOCX:
		html, err := RenderBoardHTML(board)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		render := s.pdf
		if format == FormatDOCX {
			render = s.docx
		}
		res, err := render(ctx, html, board.Name)
		if err != nil {
			s.log.Warn("render export", "board_id", board.ID, "format", format, "error", err)
			return nil, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ExportAndArchive renders board and stores the result, returning a
// time-limited download link.
func (s *Service) ExportAndArchive(ctx context.Context, board Board, format Format) (Archived, error) {
	if s.archive == nil {
		return Archived{}, ErrArchiveDisabled
	}
	res, err := s.Export(ctx, board, format)
	if err != nil {
		return Archived{}, err
	}
	return s.archive.Store(ctx, board.ID, res)
}

// ArchiveEnabled reports whether exports can be archived.
func (s *Service) ArchiveEnabled() bool {
	return s.archive != nil
}

// normalize replaces nil slices so the JSON export never carries nulls for lists.
func normalize(b *Board) {
	if b.Members == nil {
		b.Members = []Member{}
	}
	if b.Labels == nil {
		b.Labels = []Label{}
	}
	if b.Columns == nil {
		b.Columns = []Column{}
	}
	for i := range b.Columns {
		if b.Columns[i].Cards == nil {
			b.Columns[i].Cards = []Card{}
		}
		for j := range b.Columns[i].Cards {
			c := &b.Columns[i].Cards[j]
			if c.Labels == nil {
				c.Labels = []string{}
			}
			if c.Subtasks == nil {
				c.Subtasks = []Subtask{}
			}
		}
	}
}

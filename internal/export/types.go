// Package export renders board snapshots as JSON, PDF and DOCX and can archive
// rendered exports to object storage.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name case-insensitively. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Board is the denormalized snapshot handed to the renderers.
type Board struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	ExportedAt  time.Time `json:"exportedAt"`
	Members     []Member  `json:"members"`
	Labels      []Label   `json:"labels"`
	Columns     []Column  `json:"columns"`
}

type Member struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Column struct {
	Name   string `json:"name"`
	IsDone bool   `json:"isDone"`
	Cards  []Card `json:"cards"`
}

type Card struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority,omitempty"`
	Color       string     `json:"color,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Labels      []string   `json:"labels"`
	Subtasks    []Subtask  `json:"subtasks"`
	Comments    int        `json:"commentCount"`
}

type Subtask struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// CardCount is the number of cards across all columns.
func (b Board) CardCount() int {
	n := 0
	for _, c := range b.Columns {
		n += len(c.Cards)
	}
	return n
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat is returned for unknown format names.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	// ErrArchiveDisabled is returned when no object storage is configured.
	ErrArchiveDisabled = errors.New("export archive not configured")
)

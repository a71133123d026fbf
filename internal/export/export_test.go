package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func sampleBoard() Board {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return Board{
		ID:          7,
		Name:        "Release Plan",
		Description: "Q1 launch",
		Owner:       "alice",
		ExportedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Members:     []Member{{Username: "alice", DisplayName: "Alice", Role: "owner"}},
		Labels:      []Label{{Name: "bug", Color: "#ff0000"}},
		Columns: []Column{
			{Name: "Todo", Cards: []Card{{
				Title:    "Write <docs>",
				Priority: "high",
				DueDate:  &due,
				Labels:   []string{"bug"},
				Subtasks: []Subtask{{Title: "outline", Completed: true}, {Title: "draft"}},
			}}},
			{Name: "Done", IsDone: true},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"PDF", FormatPDF, false},
		{" docx ", FormatDOCX, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.input, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseFormat(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Sprint v1.2", "Sprint-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "board"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderBoardHTML(t *testing.T) {
	html, err := RenderBoardHTML(sampleBoard())
	if err != nil {
		t.Fatalf("RenderBoardHTML() error = %v", err)
	}

	for _, want := range []string{"Release Plan", "Q1 launch", "Todo", "Subtasks: 1/2", "Mar 1, 2026", "priority-high", "No cards"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<docs>") {
		t.Error("card title was not escaped")
	}
}

func TestExportJSON(t *testing.T) {
	svc := NewService(nil, nil)
	board := sampleBoard()
	board.Columns[1].Cards = nil

	res, err := svc.Export(context.Background(), board, FormatJSON)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Release-Plan.json" || res.MimeType != "application/json" {
		t.Fatalf("unexpected result metadata: %s %s", res.Filename, res.MimeType)
	}

	var decoded map[string]any
	if err := json.Unmarshal(res.Data, &decoded); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	columns := decoded["columns"].([]any)
	done := columns[1].(map[string]any)
	if cards, ok := done["cards"].([]any); !ok || len(cards) != 0 {
		t.Fatalf("empty column cards = %#v, want []", done["cards"])
	}
}

func TestExportUsesRenderer(t *testing.T) {
	svc := NewService(nil, nil)
	var gotHTML string
	svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		gotHTML = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}

	res, err := svc.Export(context.Background(), sampleBoard(), FormatPDF)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Release-Plan.pdf" {
		t.Errorf("filename = %q", res.Filename)
	}
	if !strings.Contains(gotHTML, "<h1>Release Plan</h1>") {
		t.Error("renderer did not receive board HTML")
	}
}

func TestExportAndArchiveDisabled(t *testing.T) {
	_, err := NewService(nil, nil).ExportAndArchive(context.Background(), sampleBoard(), FormatJSON)
	if !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("error = %v, want ErrArchiveDisabled", err)
	}
}

type fakeObjectStore struct {
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjectStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjectStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = data
	f.types[bucket+"/"+object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (f *fakeObjectStore) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, params url.Values) (*url.URL, error) {
	return &url.URL{Scheme: "https", Host: "files.test", Path: "/" + bucket + "/" + object, RawQuery: params.Encode()}, nil
}

func TestArchiveStore(t *testing.T) {
	store := newFakeObjectStore()
	archive := NewArchive(store, "exports", time.Hour, nil)
	archive.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

	if err := archive.ensureBucket(context.Background()); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !store.buckets["exports"] {
		t.Fatal("bucket was not created")
	}

	svc := NewService(archive, nil)
	got, err := svc.ExportAndArchive(context.Background(), sampleBoard(), FormatJSON)
	if err != nil {
		t.Fatalf("ExportAndArchive() error = %v", err)
	}

	wantObject := "boards/7/20260506T070809Z-Release-Plan.json"
	if got.Object != wantObject {
		t.Errorf("object = %q, want %q", got.Object, wantObject)
	}
	if len(store.objects["exports/"+wantObject]) == 0 {
		t.Error("export bytes were not uploaded")
	}
	if store.types["exports/"+wantObject] != "application/json" {
		t.Errorf("content type = %q", store.types["exports/"+wantObject])
	}
	if !strings.Contains(got.DownloadURL, "response-content-disposition") {
		t.Errorf("download url %q lacks content disposition", got.DownloadURL)
	}
	if !got.ExpiresAt.Equal(time.Date(2026, 5, 6, 8, 8, 9, 0, time.UTC)) {
		t.Errorf("expiresAt = %v", got.ExpiresAt)
	}
}

package content

import (
	"context"
	"errors"
	"testing"

	"github.com/classlab/gradeflow/internal/domain"
)

func TestNormalize_TextBuffer(t *testing.T) {
	n := New(nil, nil)

	desc, err := n.Normalize(context.Background(), &Source{
		Buffer:       []byte("package main\n\nfunc main() {}\n"),
		DeclaredMIME: "text/x-go",
		FileName:     "main.go",
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if desc.ContentType != domain.ContentTypeText {
		t.Errorf("got content type %s, want text", desc.ContentType)
	}
	if desc.MIMEType != "text/x-go" {
		t.Errorf("got MIME %s, want text/x-go", desc.MIMEType)
	}
}

func TestNormalize_ExtensionFallback(t *testing.T) {
	n := New(nil, nil)

	tests := []struct {
		name     string
		fileName string
		wantType domain.ContentType
		wantMIME string
	}{
		{"python source", "solution.py", domain.ContentTypeText, "text/x-python"},
		{"markdown essay", "essay.md", domain.ContentTypeText, "text/markdown"},
		{"word document", "report.docx", domain.ContentTypeDocument, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"webp image", "diagram.webp", domain.ContentTypeImage, "image/webp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := n.Normalize(context.Background(), &Source{
				Buffer:   []byte("payload"),
				FileName: tt.fileName,
			})
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if desc.ContentType != tt.wantType {
				t.Errorf("got content type %s, want %s", desc.ContentType, tt.wantType)
			}
			if desc.MIMEType != tt.wantMIME {
				t.Errorf("got MIME %s, want %s", desc.MIMEType, tt.wantMIME)
			}
		})
	}
}

func TestNormalize_DataURI(t *testing.T) {
	n := New(nil, nil)

	// "hello" base64-encoded
	desc, err := n.Normalize(context.Background(), &Source{
		DataURI: "data:text/plain;base64,aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if desc.ContentType != domain.ContentTypeText {
		t.Errorf("got content type %s, want text", desc.ContentType)
	}
	if string(desc.RawContent) != "hello" {
		t.Errorf("got payload %q, want %q", desc.RawContent, "hello")
	}
}

func TestNormalize_DeclaredMIMEWinsOverExtension(t *testing.T) {
	n := New(nil, nil)

	desc, err := n.Normalize(context.Background(), &Source{
		Buffer:       []byte("not actually an image"),
		DeclaredMIME: "text/plain",
		FileName:     "mislabeled.png",
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if desc.ContentType != domain.ContentTypeText {
		t.Errorf("declared MIME must win, got %s", desc.ContentType)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(nil, nil)
	src := &Source{
		Buffer:       []byte("some essay text"),
		DeclaredMIME: "text/plain; charset=utf-8",
	}

	first, err := n.Normalize(context.Background(), src)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	second, err := n.Normalize(context.Background(), src)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}

	if first.ContentType != second.ContentType {
		t.Errorf("content type changed between runs: %s vs %s", first.ContentType, second.ContentType)
	}
	if first.MIMEType != second.MIMEType {
		t.Errorf("MIME type changed between runs: %s vs %s", first.MIMEType, second.MIMEType)
	}
	if first.MIMEType != "text/plain" {
		t.Errorf("expected charset parameter stripped, got %s", first.MIMEType)
	}
}

func TestNormalize_UnsupportedType(t *testing.T) {
	n := New(nil, nil)

	_, err := n.Normalize(context.Background(), &Source{
		Buffer:       []byte{0x00, 0x01},
		DeclaredMIME: "application/x-msdownload",
	})
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("got %v, want ErrUnsupportedContentType", err)
	}
}

func TestNormalize_NoMIMENoExtension(t *testing.T) {
	n := New(nil, nil)

	_, err := n.Normalize(context.Background(), &Source{
		Buffer: []byte("mystery"),
	})
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("got %v, want ErrUnsupportedContentType", err)
	}
}

func TestNormalize_MissingSource(t *testing.T) {
	n := New(nil, nil)

	_, err := n.Normalize(context.Background(), &Source{
		DeclaredMIME: "text/plain",
	})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("got %v, want ErrSourceUnavailable", err)
	}
}

func TestNormalize_UnreadableFile(t *testing.T) {
	n := New(nil, nil)

	_, err := n.Normalize(context.Background(), &Source{
		FilePath:     "/nonexistent/submission.txt",
		DeclaredMIME: "text/plain",
	})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("got %v, want ErrSourceUnavailable", err)
	}
}

func TestNormalize_StorageKeyWithoutStore(t *testing.T) {
	n := New(nil, nil)

	_, err := n.Normalize(context.Background(), &Source{
		StorageKey:   "ab/abc123.pdf",
		DeclaredMIME: "application/pdf",
	})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("got %v, want ErrSourceUnavailable", err)
	}
}

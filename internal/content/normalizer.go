// Package content converts raw submission payloads into the typed,
// provider-agnostic descriptor consumed by the AI adapters.
package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	_ "golang.org/x/image/webp"

	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/logger"
	"github.com/classlab/gradeflow/internal/storage"
)

var (
	// ErrUnsupportedContentType indicates the MIME/extension combination maps
	// to no known content type. Terminal: callers must not retry.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrSourceUnavailable indicates the payload source could not be read.
	// The caller decides between retry and fail.
	ErrSourceUnavailable = errors.New("content source unavailable")
)

// Source describes where a submission payload lives. Exactly one of Buffer,
// DataURI, FilePath, or StorageKey should be set.
type Source struct {
	Buffer     []byte
	DataURI    string
	FilePath   string
	StorageKey string

	// DeclaredMIME takes precedence over extension sniffing when set.
	DeclaredMIME string
	// FileName provides the extension fallback when no MIME type is declared.
	FileName string
}

// Normalizer produces ContentDescriptors. Buffer and data-URI sources never
// touch the network; storage-key sources download through object storage.
type Normalizer struct {
	store storage.ObjectStorage
	log   *logger.Logger
}

// New creates a Normalizer. store may be nil when only local sources are used.
func New(store storage.ObjectStorage, log *logger.Logger) *Normalizer {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Normalizer{
		store: store,
		log:   log.WithField(logger.FieldComponent, "normalizer"),
	}
}

// Normalize reads the source and returns an immutable descriptor.
// Normalizing the same source twice yields the same ContentType and MIMEType.
func (n *Normalizer) Normalize(ctx context.Context, src *Source) (*domain.ContentDescriptor, error) {
	raw, uriMIME, err := n.readSource(ctx, src)
	if err != nil {
		return nil, err
	}

	mimeType := src.DeclaredMIME
	if mimeType == "" {
		mimeType = uriMIME
	}
	if mimeType == "" {
		mimeType = mimeFromName(src.FileName)
	}
	if mimeType == "" && src.FilePath != "" {
		mimeType = mimeFromName(src.FilePath)
	}
	if mimeType == "" {
		return nil, fmt.Errorf("%w: no MIME type declared and no recognizable extension", ErrUnsupportedContentType)
	}
	// Strip parameters such as "; charset=utf-8".
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	contentType, ok := contentTypeForMIME(mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mimeType)
	}

	desc := &domain.ContentDescriptor{
		ContentType: contentType,
		RawContent:  raw,
		MIMEType:    mimeType,
	}

	switch contentType {
	case domain.ContentTypeDocument:
		if mimeType == "application/pdf" {
			text, err := extractPDFText(raw)
			if err != nil {
				n.log.WithError(err).Warn("PDF text extraction failed, descriptor carries no extracted text")
			} else {
				desc.ExtractedText = text
			}
		}
	case domain.ContentTypeImage:
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(raw)); err == nil {
			desc.Width = cfg.Width
			desc.Height = cfg.Height
		}
	}

	return desc, nil
}

func (n *Normalizer) readSource(ctx context.Context, src *Source) (raw []byte, uriMIME string, err error) {
	switch {
	case src.Buffer != nil:
		return src.Buffer, "", nil

	case src.DataURI != "":
		return parseDataURI(src.DataURI)

	case src.FilePath != "":
		data, err := os.ReadFile(src.FilePath)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return data, "", nil

	case src.StorageKey != "":
		if n.store == nil {
			return nil, "", fmt.Errorf("%w: no object storage configured", ErrSourceUnavailable)
		}
		reader, err := n.store.Download(ctx, src.StorageKey)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		defer reader.Close()
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return data, "", nil
	}

	return nil, "", fmt.Errorf("%w: empty source", ErrSourceUnavailable)
}

// parseDataURI decodes data:<mime>[;base64],<payload> without network access.
func parseDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: not a data URI", ErrSourceUnavailable)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URI", ErrSourceUnavailable)
	}

	mimeType := meta
	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		mimeType = strings.TrimSuffix(meta, ";base64")
		isBase64 = true
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid base64 payload: %v", ErrSourceUnavailable, err)
		}
		return data, mimeType, nil
	}
	return []byte(payload), mimeType, nil
}

// extensionMIMEs covers submission formats the stdlib mime table misses.
var extensionMIMEs = map[string]string{
	".md":   "text/markdown",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".java": "text/x-java",
	".c":    "text/x-c",
	".cpp":  "text/x-c++",
	".js":   "text/javascript",
	".ts":   "text/typescript",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".webp": "image/webp",
}

func mimeFromName(name string) string {
	if name == "" {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := extensionMIMEs[ext]; ok {
		return m
	}
	return mime.TypeByExtension(ext)
}

func contentTypeForMIME(mimeType string) (domain.ContentType, bool) {
	switch {
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/javascript",
		mimeType == "application/xml":
		return domain.ContentTypeText, true

	case strings.HasPrefix(mimeType, "image/"):
		return domain.ContentTypeImage, true

	case mimeType == "application/pdf",
		mimeType == "application/msword",
		mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		mimeType == "application/rtf":
		return domain.ContentTypeDocument, true

	case strings.HasPrefix(mimeType, "audio/"):
		return domain.ContentTypeAudio, true

	case strings.HasPrefix(mimeType, "video/"):
		return domain.ContentTypeVideo, true
	}
	return "", false
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var sb strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", pageIndex, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

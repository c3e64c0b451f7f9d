package domain

// ContentType classifies a submission payload for adapter dispatch.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeDocument ContentType = "document"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeVideo    ContentType = "video"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeDocument, ContentTypeAudio, ContentTypeVideo:
		return true
	}
	return false
}

// ContentDescriptor is the normalized, provider-agnostic representation of a
// submission payload. It is produced once per job by the normalizer and is
// immutable afterward.
type ContentDescriptor struct {
	ContentType   ContentType
	RawContent    []byte
	MIMEType      string
	ExtractedText string
	Width         int
	Height        int
}

// HasText reports whether the descriptor carries usable text for a
// text-only fallback analysis.
func (d *ContentDescriptor) HasText() bool {
	if d.ContentType == ContentTypeText {
		return len(d.RawContent) > 0
	}
	return d.ExtractedText != ""
}

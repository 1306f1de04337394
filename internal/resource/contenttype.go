package resource

import (
	"path"
	"strings"
)

// ContentType classifies an extracted file for parsing and routing.
type ContentType string

// Content types inferred from file suffixes.
const (
	ContentTypeUSFM     ContentType = "usfm"     // scripture markup
	ContentTypeTSV      ContentType = "tsv"      // tab-separated rows
	ContentTypeMarkdown ContentType = "markdown" // structured prose
	ContentTypeText     ContentType = "text"     // plain text
	ContentTypeJSON     ContentType = "json"     // structured metadata
	ContentTypeArchive  ContentType = "archive"  // zip bundle
	ContentTypeUnknown  ContentType = ""
)

// InferContentType classifies an object key by filename suffix.
func InferContentType(key string) ContentType {
	switch strings.ToLower(path.Ext(key)) {
	case ".usfm", ".sfm":
		return ContentTypeUSFM
	case ".tsv":
		return ContentTypeTSV
	case ".md", ".markdown":
		return ContentTypeMarkdown
	case ".txt":
		return ContentTypeText
	case ".json":
		return ContentTypeJSON
	case ".zip":
		return ContentTypeArchive
	default:
		return ContentTypeUnknown
	}
}

// Indexable reports whether files of this type produce index documents.
func (c ContentType) Indexable() bool {
	switch c {
	case ContentTypeUSFM, ContentTypeTSV, ContentTypeMarkdown, ContentTypeText, ContentTypeJSON:
		return true
	default:
		return false
	}
}

// MIME returns the content type header value used when persisting bytes.
func (c ContentType) MIME() string {
	switch c {
	case ContentTypeUSFM, ContentTypeText:
		return "text/plain; charset=utf-8"
	case ContentTypeTSV:
		return "text/tab-separated-values; charset=utf-8"
	case ContentTypeMarkdown:
		return "text/markdown; charset=utf-8"
	case ContentTypeJSON:
		return "application/json"
	case ContentTypeArchive:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

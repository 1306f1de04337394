// Package parse turns extracted files into index documents, one parser per
// content type. Every parser is deterministic over its input, so
// reprocessing a redelivered message produces the identical document set.
package parse

import (
	"fmt"

	"github.com/openscripture/helpserver/internal/resource"
)

// Documents parses the file per its content type and returns zero or more
// index documents carrying the ref's resource and language.
func Documents(ref resource.Ref, file resource.ExtractedFile) ([]resource.IndexDocument, error) {
	var (
		docs []resource.IndexDocument
		err  error
	)
	switch file.ContentType {
	case resource.ContentTypeUSFM:
		docs, err = usfmDocuments(file)
	case resource.ContentTypeTSV:
		docs, err = tsvDocuments(file)
	case resource.ContentTypeMarkdown:
		docs, err = markdownDocuments(file)
	case resource.ContentTypeJSON:
		docs, err = jsonDocuments(file)
	case resource.ContentTypeText:
		docs, err = textDocuments(file)
	default:
		return nil, fmt.Errorf("no parser for content type %q (%s)", file.ContentType, file.Path)
	}
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Resource = ref.Resource
		docs[i].Language = ref.Language
	}
	return docs, nil
}

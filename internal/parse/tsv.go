package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/openscripture/helpserver/internal/resource"
)

// tsvDocuments parses tab-separated note/question/link rows. The first row
// is the header; a Reference column carries the verse range and an ID column
// the stable row identity used for idempotent upserts. Rows missing an ID
// fall back to their position, which is stable for identical inputs.
func tsvDocuments(file resource.ExtractedFile) ([]resource.IndexDocument, error) {
	r := csv.NewReader(bytes.NewReader(file.Data))
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tsv %s: %w", file.Path, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	refCol, idCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "reference":
			refCol = i
		case "id":
			idCol = i
		}
	}

	var docs []resource.IndexDocument
	for n, row := range rows[1:] {
		entryID := fmt.Sprintf("row-%d", n+1)
		if idCol >= 0 && idCol < len(row) && strings.TrimSpace(row[idCol]) != "" {
			entryID = strings.TrimSpace(row[idCol])
		}
		reference := ""
		if refCol >= 0 && refCol < len(row) {
			reference = strings.TrimSpace(row[refCol])
		}

		var text []string
		for i, cell := range row {
			if i == refCol || i == idCol {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				text = append(text, cell)
			}
		}
		if len(text) == 0 {
			continue
		}
		docs = append(docs, resource.IndexDocument{
			ArchiveKey: file.ArchiveKey,
			FilePath:   file.Path,
			EntryID:    entryID,
			Reference:  reference,
			Text:       strings.Join(text, " "),
		})
	}
	return docs, nil
}

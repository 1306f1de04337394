package parse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openscripture/helpserver/internal/resource"
)

// markdownDocuments splits structured prose on headings: each heading opens
// a section and becomes its document's reference. Content before the first
// heading indexes as the preamble.
func markdownDocuments(file resource.ExtractedFile) ([]resource.IndexDocument, error) {
	var (
		docs    []resource.IndexDocument
		heading string
		section int
		body    strings.Builder
	)

	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if text == "" && heading == "" {
			return
		}
		section++
		docs = append(docs, resource.IndexDocument{
			ArchiveKey: file.ArchiveKey,
			FilePath:   file.Path,
			EntryID:    fmt.Sprintf("section-%d", section),
			Reference:  heading,
			Text:       strings.TrimSpace(heading + " " + text),
		})
	}

	scanner := bufio.NewScanner(bytes.NewReader(file.Data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "# "))
			continue
		}
		body.WriteString(line + "\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan markdown %s: %w", file.Path, err)
	}
	flush()
	return docs, nil
}

// jsonDocuments flattens structured metadata into one searchable document
// holding every string value, ordered by path for determinism.
func jsonDocuments(file resource.ExtractedFile) ([]resource.IndexDocument, error) {
	var root any
	if err := json.Unmarshal(file.Data, &root); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", file.Path, err)
	}

	values := map[string]string{}
	flattenJSON("", root, values)
	if len(values) == 0 {
		return nil, nil
	}

	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var text []string
	for _, p := range paths {
		text = append(text, values[p])
	}
	return []resource.IndexDocument{{
		ArchiveKey: file.ArchiveKey,
		FilePath:   file.Path,
		EntryID:    "metadata",
		Text:       strings.Join(text, " "),
	}}, nil
}

func flattenJSON(path string, node any, out map[string]string) {
	switch v := node.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out[path] = s
		}
	case map[string]any:
		for k, child := range v {
			flattenJSON(path+"/"+k, child, out)
		}
	case []any:
		for i, child := range v {
			flattenJSON(fmt.Sprintf("%s/%d", path, i), child, out)
		}
	}
}

// textDocuments indexes a plain-text file as one document.
func textDocuments(file resource.ExtractedFile) ([]resource.IndexDocument, error) {
	text := strings.TrimSpace(string(file.Data))
	if text == "" {
		return nil, nil
	}
	return []resource.IndexDocument{{
		ArchiveKey: file.ArchiveKey,
		FilePath:   file.Path,
		EntryID:    "content",
		Text:       text,
	}}, nil
}

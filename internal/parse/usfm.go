package parse

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/openscripture/helpserver/internal/resource"
)

// usfmDocuments walks the verse-marker grammar: \id names the book, \c opens
// a chapter, \v opens a verse. One document per verse; headings and
// paragraph markers between verses are ignored.
func usfmDocuments(file resource.ExtractedFile) ([]resource.IndexDocument, error) {
	var (
		docs    []resource.IndexDocument
		book    string
		chapter string
		verse   string
		text    strings.Builder
	)

	flush := func() {
		if verse == "" {
			return
		}
		body := strings.TrimSpace(text.String())
		if body != "" {
			entryID := fmt.Sprintf("%s:%s", chapter, verse)
			docs = append(docs, resource.IndexDocument{
				ArchiveKey: file.ArchiveKey,
				FilePath:   file.Path,
				EntryID:    entryID,
				Reference:  strings.TrimSpace(book + " " + entryID),
				Text:       body,
			})
		}
		verse = ""
		text.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(file.Data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, `\`) {
			if verse != "" {
				text.WriteString(" " + stripInlineMarkers(line))
			}
			continue
		}

		marker, rest, _ := strings.Cut(line[1:], " ")
		switch marker {
		case "id":
			code, _, _ := strings.Cut(rest, " ")
			book = strings.ToUpper(strings.TrimSpace(code))
		case "c":
			flush()
			chapter = strings.TrimSpace(rest)
		case "v":
			flush()
			num, body, _ := strings.Cut(rest, " ")
			verse = strings.TrimSpace(num)
			text.WriteString(stripInlineMarkers(body))
		default:
			// Paragraph and poetry markers continue the open verse.
			if verse != "" && rest != "" {
				text.WriteString(" " + stripInlineMarkers(rest))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan usfm %s: %w", file.Path, err)
	}
	flush()
	return docs, nil
}

// stripInlineMarkers removes character-level USFM markup (\w ...\w*,
// alignment pipes, footnote bodies) leaving the searchable words.
func stripInlineMarkers(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	skipAttr := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\':
			// Consume the marker token itself.
			j := i + 1
			for j < len(s) && s[j] != ' ' && s[j] != '\\' {
				j++
			}
			i = j - 1
			if j < len(s) && s[j] == ' ' {
				i = j
			}
			skipAttr = false
		case s[i] == '|':
			skipAttr = true
		case skipAttr:
			// Attribute payload runs until the closing marker.
		default:
			b.WriteByte(s[i])
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

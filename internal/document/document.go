// Package document converts items to and from their on-disk text form: a
// "---" delimited header of key/value lines followed by a free-text body.
package document

import (
	"strings"
)

// Marker opens and closes the header block.
const Marker = "---"

// Field is one decoded header line.
type Field struct {
	Key    string
	Raw    string   // value text exactly as written after "key:"
	Value  string   // Raw with one layer of surrounding quotes removed
	List   []string // elements when Raw is bracketed
	IsList bool
}

// Document is the decoded form of a text file.
type Document struct {
	Fields []Field
	Body   string
	header bool
}

// Get returns the last field named key.
func (d *Document) Get(key string) (Field, bool) {
	for i := len(d.Fields) - 1; i >= 0; i-- {
		if d.Fields[i].Key == key {
			return d.Fields[i], true
		}
	}
	return Field{}, false
}

// HasHeader reports whether a header block was found.
func (d *Document) HasHeader() bool {
	return d.header
}

// Decode splits text into header fields and body. It never fails: input
// without an opening and closing marker is a document with no fields whose
// body is the whole text.
func Decode(text string) *Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == Marker {
			start = i
			break
		}
	}
	if start < 0 {
		return &Document{Body: text}
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == Marker {
			end = i
			break
		}
	}
	if end < 0 {
		return &Document{Body: text}
	}

	doc := &Document{
		Body:   strings.TrimSpace(strings.Join(lines[end+1:], "\n")),
		header: true,
	}
	for _, line := range lines[start+1 : end] {
		key, raw, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		doc.Fields = append(doc.Fields, parseField(key, strings.TrimSpace(raw)))
	}
	return doc
}

func parseField(key, raw string) Field {
	f := Field{Key: key, Raw: raw}
	if len(raw) >= 2 && raw[0] == '[' && raw[len(raw)-1] == ']' {
		f.IsList = true
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if inner == "" {
			f.List = []string{}
			return f
		}
		for _, part := range strings.Split(inner, ",") {
			f.List = append(f.List, unquote(strings.TrimSpace(part)))
		}
		return f
	}
	f.Value = unquote(raw)
	return f
}

// unquote strips one layer of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// quote wraps s in double quotes. Embedded quotes are written as-is so
// existing documents stay byte-compatible.
func quote(s string) string {
	return `"` + s + `"`
}

func formatList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = quote(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

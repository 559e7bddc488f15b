package document

import (
	"sort"
	"strconv"
	"strings"

	"shelf-go/internal/model"
)

// Header keys, in the order Encode writes them.
const (
	keyTitle       = "title"
	keyType        = "type"
	keyStatus      = "status"
	keyAuthor      = "author"
	keyDirector    = "director"
	keyActors      = "actors"
	keyISBN        = "isbn"
	keyYear        = "year"
	keyRating      = "rating"
	keyTags        = "tags"
	keyCoverURL    = "coverUrl"
	keyDateRead    = "dateRead"
	keyDateWatched = "dateWatched"
	keyDateAdded   = "dateAdded"
)

// Encode renders item as a document. Absent optional fields are omitted and
// a missing status is replaced by the type default.
func Encode(item *model.Item) string {
	var sb strings.Builder
	written := make(map[string]bool)
	line := func(key, value string) {
		written[key] = true
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteByte('\n')
	}
	str := func(key, value string) {
		if value != "" {
			line(key, quote(value))
		}
	}
	list := func(key string, values []string) {
		if values != nil {
			line(key, formatList(values))
		}
	}

	sb.WriteString(Marker + "\n")
	line(keyTitle, quote(item.Title))
	line(keyType, string(item.Type))
	if status := item.EffectiveStatus(); status != "" {
		line(keyStatus, status)
	}
	str(keyAuthor, item.Author)
	str(keyDirector, item.Director)
	list(keyActors, item.Actors)
	str(keyISBN, item.ISBN)
	if item.Year != 0 {
		line(keyYear, strconv.Itoa(item.Year))
	}
	if item.Rating != nil {
		line(keyRating, strconv.FormatFloat(*item.Rating, 'f', -1, 64))
	}
	list(keyTags, item.Tags)
	str(keyCoverURL, item.CoverURL)
	str(keyDateRead, item.DateRead)
	str(keyDateWatched, item.DateWatched)
	str(keyDateAdded, item.DateAdded)

	extra := make([]string, 0, len(item.Extra))
	for k := range item.Extra {
		if !written[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		line(k, item.Extra[k])
	}
	sb.WriteString(Marker + "\n")

	if review := strings.TrimSpace(item.Review); review != "" {
		sb.WriteString("\n")
		sb.WriteString(review)
		sb.WriteString("\n")
	}
	return sb.String()
}

// DecodeItem decodes text into an item named filename. Values that cannot be
// interpreted for a known key are kept verbatim in Extra rather than dropped.
func DecodeItem(filename, text string) *model.Item {
	doc := Decode(text)
	item := &model.Item{
		ID:       model.IDFromFilename(filename),
		Filename: filename,
		Review:   doc.Body,
	}

	keep := func(f Field) {
		if item.Extra == nil {
			item.Extra = make(map[string]string)
		}
		item.Extra[f.Key] = f.Raw
	}
	scalar := func(f Field, dst *string) {
		if f.IsList {
			keep(f)
			return
		}
		*dst = f.Value
	}
	list := func(f Field, dst *[]string) {
		switch {
		case f.IsList:
			*dst = f.List
		case f.Value != "":
			*dst = []string{f.Value}
		}
	}

	for _, f := range doc.Fields {
		switch f.Key {
		case keyTitle:
			scalar(f, &item.Title)
		case keyType:
			var t string
			scalar(f, &t)
			item.Type = model.ItemType(t)
		case keyStatus:
			scalar(f, &item.Status)
		case keyAuthor:
			scalar(f, &item.Author)
		case keyDirector:
			scalar(f, &item.Director)
		case keyActors:
			list(f, &item.Actors)
		case keyISBN:
			scalar(f, &item.ISBN)
		case keyYear:
			year, err := strconv.Atoi(f.Value)
			if err != nil || f.IsList {
				keep(f)
				continue
			}
			item.Year = year
		case keyRating:
			rating, err := strconv.ParseFloat(f.Value, 64)
			if err != nil || f.IsList {
				keep(f)
				continue
			}
			item.Rating = &rating
		case keyTags:
			list(f, &item.Tags)
		case keyCoverURL:
			scalar(f, &item.CoverURL)
		case keyDateRead:
			scalar(f, &item.DateRead)
		case keyDateWatched:
			scalar(f, &item.DateWatched)
		case keyDateAdded:
			scalar(f, &item.DateAdded)
		default:
			keep(f)
		}
	}

	if item.Status == "" {
		item.Status = model.DefaultStatus(item.Type)
	}
	return item
}

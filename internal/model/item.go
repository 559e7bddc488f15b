package model

import (
	"fmt"
	"math"
	"strings"
)

// DocumentExt is the extension every item document carries.
const DocumentExt = ".md"

// ItemType distinguishes books from movies.
type ItemType string

const (
	TypeBook  ItemType = "book"
	TypeMovie ItemType = "movie"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	return t == TypeBook || t == TypeMovie
}

// Status values per item type.
const (
	StatusRead     = "read"
	StatusReading  = "reading"
	StatusToRead   = "to-read"
	StatusWatched  = "watched"
	StatusWatching = "watching"
	StatusToWatch  = "to-watch"
)

var statuses = map[ItemType][]string{
	TypeBook:  {StatusRead, StatusReading, StatusToRead},
	TypeMovie: {StatusWatched, StatusWatching, StatusToWatch},
}

// DefaultStatus returns the status an item of type t gets when none is recorded.
// Unknown types have no default.
func DefaultStatus(t ItemType) string {
	switch t {
	case TypeBook:
		return StatusRead
	case TypeMovie:
		return StatusWatched
	default:
		return ""
	}
}

// Statuses returns the statuses allowed for t.
func Statuses(t ItemType) []string {
	return append([]string(nil), statuses[t]...)
}

// Item is one tracked book or movie.
//
// Optional fields use their zero value for "absent": empty strings, nil
// slices, Year 0 and a nil Rating are omitted from the document.
type Item struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	Title       string            `json:"title"`
	Type        ItemType          `json:"type"`
	Status      string            `json:"status,omitempty"`
	Author      string            `json:"author,omitempty"`
	Director    string            `json:"director,omitempty"`
	Actors      []string          `json:"actors,omitempty"`
	ISBN        string            `json:"isbn,omitempty"`
	Year        int               `json:"year,omitempty"`
	Rating      *float64          `json:"rating,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	CoverURL    string            `json:"coverUrl,omitempty"`
	DateRead    string            `json:"dateRead,omitempty"`
	DateWatched string            `json:"dateWatched,omitempty"`
	DateAdded   string            `json:"dateAdded,omitempty"`
	Review      string            `json:"review,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"` // header keys this version does not know
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	c := *i
	c.Actors = cloneStrings(i.Actors)
	c.Tags = cloneStrings(i.Tags)
	if i.Rating != nil {
		r := *i.Rating
		c.Rating = &r
	}
	if i.Extra != nil {
		c.Extra = make(map[string]string, len(i.Extra))
		for k, v := range i.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// EffectiveStatus returns the recorded status, or the type default when absent.
func (i *Item) EffectiveStatus() string {
	if i.Status != "" {
		return i.Status
	}
	return DefaultStatus(i.Type)
}

// Validate checks the constraints saveItem enforces before anything is written.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !i.Type.Valid() {
		return fmt.Errorf("unknown item type %q", i.Type)
	}
	if i.Status != "" && !contains(statuses[i.Type], i.Status) {
		return fmt.Errorf("status %q is not valid for a %s", i.Status, i.Type)
	}
	if i.Rating != nil {
		r := *i.Rating
		if r < 0 || r > 5 || math.Mod(r*2, 1) != 0 {
			return fmt.Errorf("rating %v must be between 0 and 5 in steps of 0.5", r)
		}
	}
	if i.Filename != "" && !strings.HasSuffix(i.Filename, DocumentExt) {
		return fmt.Errorf("filename %q must end in %s", i.Filename, DocumentExt)
	}
	if strings.ContainsAny(i.Filename, `/\`) {
		return fmt.Errorf("filename %q must not contain path separators", i.Filename)
	}
	return nil
}

// IDFromFilename derives the stable item id: the filename minus its extension.
func IDFromFilename(filename string) string {
	return strings.TrimSuffix(filename, DocumentExt)
}

// Rating is a convenience for building a *float64 rating.
func Rating(r float64) *float64 {
	return &r
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

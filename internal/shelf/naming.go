package shelf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"shelf-go/internal/model"
)

// Reserved names inside a storage root. Neither is ever loaded as an item.
const (
	TrashContainer = ".trash"
	SettingsName   = "settings.json"
)

// IsItemDocument reports whether name is an item document rather than a
// reserved or hidden entry.
func IsItemDocument(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || name == SettingsName {
		return false
	}
	return strings.HasSuffix(name, model.DocumentExt)
}

// ValidateName rejects names that would escape the storage root.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

// ExistsFunc reports whether a name is already taken in some location.
type ExistsFunc func(name string) (bool, error)

// TrashFileName returns a name for name inside the trash that does not
// collide with an existing entry, appending a timestamp suffix if needed.
func TrashFileName(name string, now time.Time, exists ExistsFunc) (string, error) {
	return freeName(name, "-", now, exists)
}

// RestoredFileName returns the name a restored document is written under:
// the original name, or <base>-restored-<epoch-ms>.md if that is taken.
func RestoredFileName(name string, now time.Time, exists ExistsFunc) (string, error) {
	return freeName(name, "-restored-", now, exists)
}

func freeName(name, infix string, now time.Time, exists ExistsFunc) (string, error) {
	taken, err := exists(name)
	if err != nil {
		return "", err
	}
	if !taken {
		return name, nil
	}

	ext := model.DocumentExt
	if !strings.HasSuffix(name, ext) {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)
	stamp := strconv.FormatInt(now.UnixMilli(), 10)

	for i := 0; ; i++ {
		candidate := base + infix + stamp + ext
		if i > 0 {
			candidate = base + infix + stamp + "-" + strconv.Itoa(i) + ext
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// SortItems orders items by dateAdded, newest first. Items with equal or
// missing dates fall back to filename order so results are reproducible.
func SortItems(items []*model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if c := compareAdded(a.DateAdded, b.DateAdded); c != 0 {
			return c > 0
		}
		return a.Filename < b.Filename
	})
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// compareAdded returns >0 when a is newer than b. Missing dates sort as
// oldest.
func compareAdded(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}
	ta, okA := parseDate(a)
	tb, okB := parseDate(b)
	if okA && okB {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/disiqueira/gotree/v3"
	"golang.org/x/term"

	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
)

func filterByType(items []*model.Item, itemType string) []*model.Item {
	if itemType == "" {
		return items
	}
	var out []*model.Item
	for _, it := range items {
		if string(it.Type) == itemType {
			out = append(out, it)
		}
	}
	return out
}

// formatItem renders one line: id, type, status, title and rating.
func formatItem(it *model.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %-5s %-8s %s", it.ID, it.Type, it.EffectiveStatus(), it.Title)
	if by := creator(it); by != "" {
		fmt.Fprintf(&b, " (%s)", by)
	}
	if it.Rating != nil {
		fmt.Fprintf(&b, " %s", stars(*it.Rating))
	}
	return b.String()
}

func creator(it *model.Item) string {
	if it.Type == model.TypeMovie {
		return it.Director
	}
	return it.Author
}

func stars(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64) + "★"
}

// renderTree groups items by type, then status, in list order.
func renderTree(info shelf.StorageInfo, items []*model.Item) string {
	root := gotree.New(fmt.Sprintf("%s (%d items)", info.Location, len(items)))
	for _, t := range []model.ItemType{model.TypeBook, model.TypeMovie} {
		var typeNode gotree.Tree
		for _, status := range model.Statuses(t) {
			var statusNode gotree.Tree
			for _, it := range items {
				if it.Type != t || it.EffectiveStatus() != status {
					continue
				}
				if typeNode == nil {
					typeNode = root.Add(string(t) + "s")
				}
				if statusNode == nil {
					statusNode = typeNode.Add(status)
				}
				label := it.Title
				if it.Rating != nil {
					label += " " + stars(*it.Rating)
				}
				statusNode.Add(label)
			}
		}
	}
	return root.Print()
}

// progressPrinter shows a load counter on stderr when it is a terminal.
func progressPrinter() shelf.ProgressFunc {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return func(p shelf.Progress) {
		fmt.Fprintf(os.Stderr, "\rLoading %d/%d", p.Processed, p.Total)
		if p.Total > 0 && p.Processed >= p.Total {
			fmt.Fprint(os.Stderr, "\r\033[K")
		}
	}
}

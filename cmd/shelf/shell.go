package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shelf-go/internal/app"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
)

const shellHelp = `Commands:
  ls                     list the library
  add book|movie TITLE   add an item
  rm NAME                move an item to the trash
  undo                   restore the last removal
  trash                  list the trash
  restore TRASH [NAME]   restore a trash entry
  cat NAME               print a document
  quit                   leave the shell
`

// shellCmd keeps one app open so removals can be undone.
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session with undo",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Shell", args, func(ctx context.Context, a *app.ShelfApp) error {
			return runShell(ctx, a, os.Stdin, os.Stdout)
		})
	},
}

func runShell(ctx context.Context, a *app.ShelfApp, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "shelf (%d undo)> ", a.Storage().UndoDepth())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		quit, err := shellStep(ctx, a, fields, out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func shellStep(ctx context.Context, a *app.ShelfApp, fields []string, out io.Writer) (bool, error) {
	switch fields[0] {
	case "quit", "exit":
		return true, nil

	case "help", "?":
		fmt.Fprint(out, shellHelp)

	case "ls":
		res, err := a.List(ctx, nil)
		if err != nil {
			return false, err
		}
		for _, it := range res.Items {
			fmt.Fprintln(out, formatItem(it))
		}
		for _, f := range res.Failures {
			fmt.Fprintf(out, "warning: %v\n", f)
		}

	case "add":
		if len(fields) < 3 {
			return false, errors.New("usage: add book|movie TITLE")
		}
		saved, err := a.Add(ctx, &model.Item{
			Type:  model.ItemType(fields[1]),
			Title: strings.Join(fields[2:], " "),
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "added %s\n", saved.Filename)

	case "rm":
		if len(fields) != 2 {
			return false, errors.New("usage: rm NAME")
		}
		rec, err := a.Remove(ctx, fields[1])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "trashed %s\n", rec.SourceName)

	case "undo":
		name, err := a.Undo(ctx)
		if errors.Is(err, shelf.ErrUndoEmpty) {
			return false, errors.New("nothing to undo")
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "restored %s\n", name)

	case "trash":
		names, err := a.Trash(ctx)
		if err != nil {
			return false, err
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}

	case "restore":
		if len(fields) < 2 || len(fields) > 3 {
			return false, errors.New("usage: restore TRASH [NAME]")
		}
		as := ""
		if len(fields) == 3 {
			as = fields[2]
		}
		name, err := a.Restore(ctx, fields[1], as)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "restored %s\n", name)

	case "cat":
		if len(fields) != 2 {
			return false, errors.New("usage: cat NAME")
		}
		data, err := a.Cat(ctx, fields[1])
		if err != nil {
			return false, err
		}
		out.Write(data)

	default:
		return false, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return false, nil
}

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"shelf-go/internal/shelf"
)

// PromptPicker asks for the library directory on a line-oriented terminal.
// An empty answer, end of input, or a non-interactive stdin cancels.
type PromptPicker struct {
	in  io.Reader
	out io.Writer
}

var _ shelf.DirectoryPicker = (*PromptPicker)(nil)

func NewPromptPicker(in io.Reader, out io.Writer) *PromptPicker {
	return &PromptPicker{in: in, out: out}
}

func (p *PromptPicker) PickDirectory(ctx context.Context) (string, error) {
	if f, ok := p.in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return "", shelf.ErrCancelled
	}
	fmt.Fprint(p.out, "Library directory (empty to cancel): ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.in).ReadString('\n')
		answer <- strings.TrimSpace(line)
	}()

	var dir string
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case dir = <-answer:
	}
	if dir == "" {
		return "", shelf.ErrCancelled
	}
	return expandHome(dir)
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// errMismatch is returned when a confirmation does not match.
var errMismatch = errors.New("entries do not match")

// Piped input is read line by line through one buffered reader so that
// consecutive prompts do not lose data to each other's buffers.
var (
	inputMu  sync.Mutex
	inputSrc io.Reader
	inputBuf *bufio.Reader
)

func lineReader(r io.Reader) *bufio.Reader {
	inputMu.Lock()
	defer inputMu.Unlock()
	if r != inputSrc {
		inputSrc = r
		inputBuf = bufio.NewReader(r)
	}
	return inputBuf
}

// isTerminal returns true if r is a terminal
func isTerminal(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// readLine reads a single line from the command's input, trimming the
// trailing newline.
func readLine(cmd *cobra.Command) (string, error) {
	line, err := lineReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readHidden prompts on stderr and reads without echo when the input is a
// terminal. Piped input falls back to readLine.
func readHidden(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if fd, ok := isTerminal(cmd.InOrStdin()); ok {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(b), nil
	}
	return readLine(cmd)
}

// readConfirmed reads a hidden value twice.
func readConfirmed(cmd *cobra.Command, prompt, confirm string) (string, error) {
	first, err := readHidden(cmd, prompt)
	if err != nil {
		return "", err
	}
	second, err := readHidden(cmd, confirm)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errMismatch
	}
	return first, nil
}

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	answer, err := readLine(cmd)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var errInvalidChoice = errors.New("invalid choice")

// prompter asks questions on stdin/stderr.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

func newPrompter() *prompter {
	return &prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  int(os.Stdin.Fd()),
	}
}

// ask reads one line. An empty answer yields def.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading answer: %w", err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// required repeats the question until a non-empty answer is given.
func (p *prompter) required(label string) (string, error) {
	for {
		answer, err := p.ask(label, "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
	}
}

func (p *prompter) confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer, err := p.ask(label+" ("+hint+")", "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// choose accepts one of options, case-insensitively.
func (p *prompter) choose(label string, options []string, def string) (string, error) {
	for {
		answer, err := p.ask(fmt.Sprintf("%s (%s)", label, strings.Join(options, "/")), def)
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(answer)
		if slices.Contains(options, answer) {
			return answer, nil
		}
		fmt.Fprintf(p.out, "Please choose one of: %s\n", strings.Join(options, ", "))
	}
}

// password reads a secret without echo when stdin is a terminal.
func (p *prompter) password(label string) (string, error) {
	if !term.IsTerminal(p.fd) {
		return p.ask(label, "")
	}

	fmt.Fprintf(p.out, "%s: ", label)
	raw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

// pick asks for a 1-based item number, or "all" when allowAll is set, and
// returns 0-based indices.
func (p *prompter) pick(label string, n int, allowAll bool) ([]int, error) {
	if allowAll {
		label += " (or 'all' for all devices)"
	}
	answer, err := p.ask(label, "")
	if err != nil {
		return nil, err
	}
	return parseSelection(answer, n, allowAll)
}

func parseSelection(answer string, n int, allowAll bool) ([]int, error) {
	answer = strings.TrimSpace(strings.ToLower(answer))

	if allowAll && answer == "all" {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	idx, err := strconv.Atoi(answer)
	if err != nil || idx < 1 || idx > n {
		return nil, fmt.Errorf("%w %q: enter a number between 1 and %d", errInvalidChoice, answer, n)
	}
	return []int{idx - 1}, nil
}

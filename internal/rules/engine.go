// Package rules cleans up dictated transcripts with deterministic
// substitutions loaded from a plain-text rules file. Field clinicians keep
// personal shorthand there ("bee cee ess => BCS", drug name fixups) so the
// transcript that lands in the draft reads like chart text.
//
// Two line forms are supported, evaluated top to bottom until stable:
//
//	spoken form => replacement        literal, case-insensitive, word-bounded
//	s/pattern/replacement/flags       regular expression (flags: g, i)
//
// Blank lines and lines starting with '#' are ignored.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultPassLimit = 30

type substitution struct {
	re     *regexp.Regexp
	repl   string
	global bool
}

func (s substitution) apply(input string) (string, bool) {
	if s.global {
		out := s.re.ReplaceAllString(input, s.repl)
		return out, out != input
	}

	// First occurrence only.
	loc := s.re.FindStringIndex(input)
	if loc == nil {
		return input, false
	}
	out := input[:loc[0]] + s.re.ReplaceAllString(input[loc[0]:loc[1]], s.repl) + input[loc[1]:]
	return out, out != input
}

// Engine applies a compiled rule set to transcript text.
type Engine struct {
	subs      []substitution
	passLimit int
}

// NewEngine loads rules from path. A blank or missing path yields an engine
// that passes text through unchanged; a present but malformed file is an
// error so silent rule loss cannot corrupt chart text.
func NewEngine(path string, passLimit int) (*Engine, error) {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}

	if strings.TrimSpace(path) == "" {
		return &Engine{passLimit: passLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{passLimit: passLimit}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	subs, err := compile(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return &Engine{subs: subs, passLimit: passLimit}, nil
}

// Apply rewrites text until no rule changes it, bounded by the pass limit so
// mutually feeding rules cannot loop forever.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.subs) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.passLimit; pass++ {
		changed := false
		for _, sub := range e.subs {
			next, didChange := sub.apply(result)
			if didChange {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func compile(contents string) ([]substitution, error) {
	var subs []substitution
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			sub substitution
			err error
		)
		switch {
		case strings.HasPrefix(line, "s/"):
			sub, err = compileRegex(line)
		case strings.Contains(line, "=>"):
			sub, err = compileLiteral(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func compileLiteral(line string) (substitution, error) {
	parts := strings.SplitN(line, "=>", 2)
	spoken := strings.TrimSpace(parts[0])
	if spoken == "" {
		return substitution{}, errors.New("literal rule has an empty left side")
	}

	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(spoken) + `\b`)
	if err != nil {
		return substitution{}, err
	}
	return substitution{
		re:     re,
		repl:   strings.TrimSpace(parts[1]),
		global: true,
	}, nil
}

func compileRegex(line string) (substitution, error) {
	// s/pattern/replacement/flags with '/' escapable as '\/'.
	body := line[len("s/"):]
	fields := splitUnescaped(body, '/')
	if len(fields) < 2 || len(fields) > 3 {
		return substitution{}, errors.New("regex rule needs s/pattern/replacement/[flags]")
	}

	pattern := fields[0]
	if pattern == "" {
		return substitution{}, errors.New("regex rule has an empty pattern")
	}

	var global bool
	flags := ""
	if len(fields) == 3 {
		for _, flag := range fields[2] {
			switch flag {
			case 'g':
				global = true
			case 'i':
				flags += "i"
			default:
				return substitution{}, fmt.Errorf("unknown flag %q", string(flag))
			}
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return substitution{}, err
	}
	return substitution{
		re:     re,
		repl:   rewriteDollarRefs(fields[1]),
		global: global,
	}, nil
}

func splitUnescaped(input string, sep rune) []string {
	var (
		fields  []string
		current strings.Builder
		escaped bool
	)
	for _, r := range input {
		switch {
		case escaped:
			if r != sep {
				current.WriteRune('\\')
			}
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == sep:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	fields = append(fields, current.String())
	return fields
}

// rewriteDollarRefs converts sed-style \1 backreferences to Go's $1 form.
func rewriteDollarRefs(repl string) string {
	var out strings.Builder
	for i := 0; i < len(repl); i++ {
		if repl[i] == '\\' && i+1 < len(repl) && repl[i+1] >= '1' && repl[i+1] <= '9' {
			out.WriteByte('$')
			out.WriteByte(repl[i+1])
			i++
			continue
		}
		out.WriteByte(repl[i])
	}
	return out.String()
}

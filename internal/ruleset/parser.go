package ruleset

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseError is one syntax error found while parsing a rule file. The
// parser accumulates these instead of stopping at the first one, so an
// operator sees every mistake in a single pass.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Line, e.Err)
}

// Errors is the accumulated set of ParseErrors from one Parse call.
type Errors []*ParseError

func (e Errors) Error() string {
	var sb strings.Builder
	for i, pe := range e {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pe.Error())
	}
	return sb.String()
}

// Parse reads the rule file at path and returns its ordered RuleSet. If any
// line fails to parse, Parse returns a non-nil Errors alongside whatever
// rules did parse; callers must refuse to run when errors are non-empty
// (§4.1: "if errors > 0 after parsing, the program refuses to run").
func Parse(path string) (*RuleSet, Errors) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Errors{{Line: 0, Err: err}}
	}
	defer f.Close()

	lines, joinErrs := joinContinuations(f)

	rs := &RuleSet{}
	var errs Errors
	errs = append(errs, joinErrs...)

	for _, ll := range lines {
		text := stripComment(ll.text)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		words, err := splitWords(text)
		if err != nil {
			errs = append(errs, &ParseError{Line: ll.lineNo, Err: err})
			continue
		}
		if len(words) == 0 {
			continue
		}

		rule, err := parseRule(words)
		if err != nil {
			errs = append(errs, &ParseError{Line: ll.lineNo, Err: err})
			continue
		}
		rule.Line = ll.lineNo
		rs.Rules = append(rs.Rules, rule)
	}

	if len(errs) > 0 {
		return rs, errs
	}
	return rs, nil
}

type logicalLine struct {
	lineNo int // line number of the first physical line that makes up this logical line
	text   string
}

// joinContinuations merges `\`-terminated physical lines into single
// logical lines, the way the grammar's `\<newline>` continuation works.
func joinContinuations(f *os.File) ([]logicalLine, Errors) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var out []logicalLine
	var cur strings.Builder
	curStart := 0
	physical := 0

	flush := func() {
		if curStart != 0 {
			out = append(out, logicalLine{lineNo: curStart, text: cur.String()})
		}
		cur.Reset()
		curStart = 0
	}

	for scanner.Scan() {
		physical++
		line := scanner.Text()

		if curStart == 0 {
			curStart = physical
		} else {
			cur.WriteByte(' ')
		}

		if strings.HasSuffix(line, `\`) && !strings.HasSuffix(line, `\\`) {
			cur.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}

		cur.WriteString(line)
		flush()
	}
	flush()

	var errs Errors
	if err := scanner.Err(); err != nil {
		errs = append(errs, &ParseError{Line: physical, Err: err})
	}
	return out, errs
}

// stripComment removes a trailing `#`-introduced comment, the way the shell
// does: a `#` only starts a comment when it is the first character or is
// preceded by whitespace, and never inside a quoted string.
func stripComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inQuote = !inQuote
		case c == '#' && !inQuote && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t'):
			return s[:i]
		}
	}
	return s
}

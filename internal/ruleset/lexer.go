package ruleset

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// splitWords tokenizes one logical config line (continuations already
// joined, comment already stripped) into words, honoring single and double
// quoting the same way mvdan.cc/sh/v3/syntax does for shell words. The doas
// grammar has no variable expansion, so any non-literal word part
// (parameter expansion, command substitution, arithmetic) is rejected;
// glob characters are plain literal text to the parser and are kept as-is.
func splitWords(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangPOSIX))
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if len(file.Stmts) == 0 {
		return nil, nil
	}
	if len(file.Stmts) > 1 {
		return nil, fmt.Errorf("unexpected statement separator")
	}

	call, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok {
		return nil, fmt.Errorf("unsupported construct on rule line")
	}

	words := make([]string, 0, len(call.Args))
	for _, w := range call.Args {
		word, err := literalWord(w)
		if err != nil {
			return nil, err
		}
		words = append(words, word)
	}
	return words, nil
}

// literalWord concatenates the literal text of a shell word, rejecting any
// part that would require expansion (variables, command substitution,
// arithmetic) since the rule grammar has no such concept.
func literalWord(w *syntax.Word) (string, error) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", fmt.Errorf("unsupported expansion inside quoted string")
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", fmt.Errorf("unsupported expansion in rule line")
		}
	}
	return sb.String(), nil
}

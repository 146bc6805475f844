package ruleset

import (
	"fmt"
	"strings"
)

// PersistenceStoreSupported reports whether this build links the
// persistence store (§4.4). It is a var, not a const, so tests can flip it
// to exercise the "persist without a compiled-in persistence store" parse
// error without a separate build.
var PersistenceStoreSupported = true

type tokenStream struct {
	words []string
	pos   int
}

func (t *tokenStream) peek() (string, bool) {
	if t.pos >= len(t.words) {
		return "", false
	}
	return t.words[t.pos], true
}

func (t *tokenStream) next() (string, bool) {
	w, ok := t.peek()
	if ok {
		t.pos++
	}
	return w, ok
}

func (t *tokenStream) expect(tok string) error {
	w, ok := t.next()
	if !ok {
		return fmt.Errorf("expected %q, got end of line", tok)
	}
	if w != tok {
		return fmt.Errorf("expected %q, got %q", tok, w)
	}
	return nil
}

// ParseLine parses a single already-assembled rule line (no comments, no
// continuations); the tests use it to build rules from literal lines.
func ParseLine(line string) (Rule, error) {
	words, err := splitWords(line)
	if err != nil {
		return Rule{}, err
	}
	return parseRule(words)
}

// parseRule runs the grammar in §4.1 over one line's already-split words:
//
//	rule    := action options? identity ("as" target)?
//	           ("cmd" command ("args" arg*)?)?
func parseRule(words []string) (Rule, error) {
	ts := &tokenStream{words: words}
	var r Rule

	action, ok := ts.next()
	if !ok {
		return r, fmt.Errorf("empty rule")
	}
	switch action {
	case "permit":
		r.Action = ActionPermit
	case "deny":
		r.Action = ActionDeny
	default:
		return r, fmt.Errorf("expected \"permit\" or \"deny\", got %q", action)
	}

	if err := parseOptions(ts, &r); err != nil {
		return r, err
	}

	if r.Options.Has(OptPersist) && r.Action != ActionPermit {
		return r, fmt.Errorf("\"persist\" is only valid on a \"permit\" rule")
	}
	if r.Options.Has(OptPersist) && !PersistenceStoreSupported {
		return r, fmt.Errorf("\"persist\" requires a persistence store, none is compiled in")
	}

	ident, ok := ts.next()
	if !ok {
		return r, fmt.Errorf("expected an identity")
	}
	r.Identity = parseIdentity(ident)

	if tok, ok := ts.peek(); ok && tok == "as" {
		ts.next()
		target, ok := ts.next()
		if !ok {
			return r, fmt.Errorf("\"as\" requires a target")
		}
		r.HasTarget = true
		r.Target = target
	}

	if tok, ok := ts.peek(); ok && tok == "cmd" {
		ts.next()
		cmd, ok := ts.next()
		if !ok {
			return r, fmt.Errorf("\"cmd\" requires a command")
		}
		r.HasCmd = true
		r.Cmd = cmd

		if tok, ok := ts.peek(); ok && tok == "args" {
			ts.next()
			r.HasArgs = true
			for {
				arg, ok := ts.next()
				if !ok {
					break
				}
				r.Args = append(r.Args, arg)
			}
		}
	}

	if tok, ok := ts.peek(); ok {
		return r, fmt.Errorf("unexpected token %q", tok)
	}

	return r, nil
}

// parseOptions consumes the zero-or-more options preceding the identity.
// Duplicate or contradictory options are not a parse error: a repeated
// flag is a no-op under the bitset OR, and a later setenv (or keepenv)
// block appends its directives after the earlier ones, so for the same
// name the later directive wins when the envlist is applied in order.
func parseOptions(ts *tokenStream, r *Rule) error {
	for {
		tok, ok := ts.peek()
		if !ok {
			return nil
		}
		switch tok {
		case "nopass":
			ts.next()
			r.Options |= OptNoPass
		case "persist":
			ts.next()
			r.Options |= OptPersist
		case "keepenv":
			ts.next()
			r.Options |= OptKeepEnv
			if next, ok := ts.peek(); ok && next == "{" {
				if err := parseSetenv(ts, r); err != nil {
					return err
				}
			}
		case "setenv":
			ts.next()
			r.Options |= OptSetEnv
			if err := parseSetenv(ts, r); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func parseSetenv(ts *tokenStream, r *Rule) error {
	if err := ts.expect("{"); err != nil {
		return err
	}
	for {
		tok, ok := ts.next()
		if !ok {
			return fmt.Errorf("unterminated \"setenv\" block, expected \"}\"")
		}
		if tok == "}" {
			return nil
		}
		dir, err := parseEnvspec(tok)
		if err != nil {
			return err
		}
		r.Env = append(r.Env, dir)
	}
}

// parseEnvspec parses one word of a setenv block per:
//
//	envspec := NAME | NAME "=" string | "-" NAME
func parseEnvspec(tok string) (EnvDirective, error) {
	if strings.HasPrefix(tok, "-") && len(tok) > 1 {
		return EnvDirective{Op: EnvDrop, Name: tok[1:]}, nil
	}
	if i := strings.IndexByte(tok, '='); i >= 0 {
		name := tok[:i]
		if name == "" {
			return EnvDirective{}, fmt.Errorf("empty environment variable name in %q", tok)
		}
		return EnvDirective{Op: EnvSet, Name: name, Value: tok[i+1:]}, nil
	}
	if tok == "" {
		return EnvDirective{}, fmt.Errorf("empty environment variable name")
	}
	return EnvDirective{Op: EnvPreserve, Name: tok}, nil
}

func parseIdentity(tok string) Identity {
	if strings.HasPrefix(tok, ":") {
		return Identity{Group: true, Name: tok[1:]}
	}
	return Identity{Name: tok}
}

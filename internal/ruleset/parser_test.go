package ruleset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConf(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "doas.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseSimpleRules(t *testing.T) {
	path := writeConf(t, `
permit nopass :wheel
deny alice as root
permit alice
`)

	rs, errs := Parse(path)
	if errs != nil {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(rs.Rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rs.Rules))
	}

	r0 := rs.Rules[0]
	if r0.Action != ActionPermit || !r0.Options.Has(OptNoPass) || !r0.Identity.Group || r0.Identity.Name != "wheel" {
		t.Fatalf("rule 0 parsed wrong: %+v", r0)
	}

	r1 := rs.Rules[1]
	if r1.Action != ActionDeny || r1.Identity.Name != "alice" || !r1.HasTarget || r1.Target != "root" {
		t.Fatalf("rule 1 parsed wrong: %+v", r1)
	}

	r2 := rs.Rules[2]
	if r2.Action != ActionPermit || r2.Identity.Name != "alice" || r2.HasTarget {
		t.Fatalf("rule 2 parsed wrong: %+v", r2)
	}
}

func TestParseCmdAndArgs(t *testing.T) {
	path := writeConf(t, `permit keepenv { PATH } alice cmd /bin/ls args -l`)

	rs, errs := Parse(path)
	if errs != nil {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	r := rs.Rules[0]
	if !r.Options.Has(OptKeepEnv) {
		t.Fatalf("expected keepenv option")
	}
	if len(r.Env) != 1 || r.Env[0].Name != "PATH" || r.Env[0].Op != EnvPreserve {
		t.Fatalf("expected one preserve envspec for PATH, got %+v", r.Env)
	}
	if !r.HasCmd || r.Cmd != "/bin/ls" {
		t.Fatalf("expected cmd /bin/ls, got %+v", r)
	}
	if !r.HasArgs || len(r.Args) != 1 || r.Args[0] != "-l" {
		t.Fatalf("expected args [-l], got %+v", r.Args)
	}
}

func TestParseEmptyArgsRequiresNoArgs(t *testing.T) {
	path := writeConf(t, `permit alice cmd /bin/ls args`)

	rs, errs := Parse(path)
	if errs != nil {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	r := rs.Rules[0]
	if !r.HasArgs || len(r.Args) != 0 {
		t.Fatalf("expected HasArgs=true with zero args, got %+v", r)
	}
}

func TestParseSetenvDirectives(t *testing.T) {
	path := writeConf(t, `permit setenv { PATH=/usr/bin HOME -MAIL } root`)

	rs, errs := Parse(path)
	if errs != nil {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	env := rs.Rules[0].Env
	if len(env) != 3 {
		t.Fatalf("got %d envspecs, want 3: %+v", len(env), env)
	}
	if env[0].Op != EnvSet || env[0].Name != "PATH" || env[0].Value != "/usr/bin" {
		t.Fatalf("envspec 0 wrong: %+v", env[0])
	}
	if env[1].Op != EnvPreserve || env[1].Name != "HOME" {
		t.Fatalf("envspec 1 wrong: %+v", env[1])
	}
	if env[2].Op != EnvDrop || env[2].Name != "MAIL" {
		t.Fatalf("envspec 2 wrong: %+v", env[2])
	}
}

func TestParseLineContinuation(t *testing.T) {
	path := writeConf(t, "permit \\\n  keepenv { PATH } \\\n  alice cmd /bin/ls")

	rs, errs := Parse(path)
	if errs != nil {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rs.Rules))
	}
	if rs.Rules[0].Line != 1 {
		t.Fatalf("continuation should report the first physical line, got %d", rs.Rules[0].Line)
	}
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	path := writeConf(t, "\n# a full-line comment\npermit alice # trailing comment\n\n")

	rs, errs := Parse(path)
	if errs != nil {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rs.Rules))
	}
	if rs.Rules[0].Line != 3 {
		t.Fatalf("expected rule on line 3, got %d", rs.Rules[0].Line)
	}
}

func TestParsePersistWithoutPermitIsError(t *testing.T) {
	path := writeConf(t, `deny persist alice`)

	_, errs := Parse(path)
	if errs == nil {
		t.Fatalf("expected a parse error for persist on a deny rule")
	}
}

func TestParsePersistWithoutStoreIsError(t *testing.T) {
	old := PersistenceStoreSupported
	PersistenceStoreSupported = false
	defer func() { PersistenceStoreSupported = old }()

	path := writeConf(t, `permit persist alice`)
	_, errs := Parse(path)
	if errs == nil {
		t.Fatalf("expected a parse error when no persistence store is compiled in")
	}
}

func TestParseAccumulatesMultipleErrors(t *testing.T) {
	path := writeConf(t, "bogus line one\npermit alice\nanother bad <> line\n")

	rs, errs := Parse(path)
	if errs == nil {
		t.Fatalf("expected parse errors")
	}
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("expected the one good rule to still parse, got %d", len(rs.Rules))
	}
}

func TestParseUnexpectedTrailingToken(t *testing.T) {
	path := writeConf(t, `permit alice as root extra`)
	_, errs := Parse(path)
	if errs == nil {
		t.Fatalf("expected a parse error for the trailing token")
	}
}

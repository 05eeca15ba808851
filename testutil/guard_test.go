package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"third party host", ThirdPartyImport, "go.uber.org/zap", true},
		{"stdlib", ThirdPartyImport, "encoding/json", false},
		{"module root", ModuleImport, "vivarium", true},
		{"module package", ModuleImport, "vivarium/pkg/domain", true},
		{"prefix only", ModuleImport, "vivariumx/pkg", false},
		{"internal", InternalImport, "vivarium/internal/core", true},
		{"pkg", InternalImport, "vivarium/pkg/domain", false},
		{"allowed module", ModuleImportExcept("vivarium/pkg/domain"), "vivarium/pkg/domain", false},
		{"other module", ModuleImportExcept("vivarium/pkg/domain"), "vivarium/internal/core", true},
		{"outside module", ModuleImportExcept(), "fmt", false},
	}
	for _, c := range cases {
		if got := c.fn(c.in); got != c.want {
			t.Errorf("%s: got %v for %q, want %v", c.name, got, c.in, c.want)
		}
	}
}

func TestDirectImportViolationsSkipsTestsAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport \"fmt\"\nfunc A() { fmt.Println() }\n")
	writeFile(t, dir, "a_test.go", "package tmp\nimport \"go.uber.org/zap\"\nvar _ = zap.L\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "s.go", "package sub\nimport \"go.uber.org/zap\"\nvar _ = zap.L\n")
	AssertNoDirectImports(t, dir, ThirdPartyImport, "temp package")
}

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.go", "package tmp\nimport \"go.uber.org/zap\"\nvar _ = zap.L\n")
	viols, err := directImportViolations(dir, ThirdPartyImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "go.uber.org/zap (in b.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), ThirdPartyImport); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	writeFile(t, dir, "broken.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, ThirdPartyImport); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTransitiveViolationsWalkGraphOnce(t *testing.T) {
	leaf := &packages.Package{PkgPath: "vivarium/internal/core"}
	mid := &packages.Package{PkgPath: "vivarium/pkg/util", Imports: map[string]*packages.Package{"vivarium/internal/core": leaf}}
	root := &packages.Package{PkgPath: "vivarium/pkg/domain", Imports: map[string]*packages.Package{
		"vivarium/pkg/util":      mid,
		"vivarium/internal/core": leaf,
	}}
	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{root}, nil }

	viols, err := transitiveDependencyViolations("vivarium/pkg/domain", InternalImport)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(viols) != 1 || viols[0] != "vivarium/internal/core" {
		t.Fatalf("unexpected violations %v", viols)
	}

	loadPackages = func(string) ([]*packages.Package, error) { return nil, errors.New("boom") }
	if _, err := transitiveDependencyViolations("x", InternalImport); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestFailIfViolations(t *testing.T) {
	var rec recordingFatal
	failIfViolations(&rec, "direct imports", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIfViolations(&rec, "direct imports", "reason", []string{"a", "b"})
	if !strings.Contains(rec.msg, "a\nb") {
		t.Fatalf("expected joined violations, got %q", rec.msg)
	}
}

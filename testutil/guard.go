// Package testutil provides import guards shared by the architecture tests
// that keep the domain and storage layers decoupled.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import prefix of this module.
const ModulePath = "vivarium"

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import path satisfies the forbidden predicate. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "direct imports", reason, viols)
}

// AssertNoTransitiveDependency loads pattern with its full dependency graph
// and fails if any reachable package satisfies the forbidden predicate.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "transitive dependency", reason, viols)
}

// ThirdPartyImport matches paths whose first element looks like a host name.
func ThirdPartyImport(path string) bool {
	first := strings.SplitN(path, "/", 2)[0]
	return strings.Contains(first, ".")
}

// ModuleImport matches any package of this module.
func ModuleImport(path string) bool {
	return path == ModulePath || strings.HasPrefix(path, ModulePath+"/")
}

// ModuleImportExcept matches module packages other than the allowed ones.
func ModuleImportExcept(allowed ...string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(path string) bool {
		if !ModuleImport(path) {
			return false
		}
		_, ok := set[path]
		return !ok
	}
}

// InternalImport matches any path containing an internal/ element.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

var loadPackages = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, error) {
	roots, err := loadPackages(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var viols []string
	var walk func(p *packages.Package)
	walk = func(p *packages.Package) {
		if _, ok := seen[p.PkgPath]; ok {
			return
		}
		seen[p.PkgPath] = struct{}{}
		if forbidden(p.PkgPath) {
			viols = append(viols, p.PkgPath)
		}
		for _, dep := range p.Imports {
			walk(dep)
		}
	}
	for _, root := range roots {
		seen[root.PkgPath] = struct{}{}
		for _, dep := range root.Imports {
			walk(dep)
		}
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}

// Package testlist discovers Go tests from source without invoking the
// toolchain, producing the ids the go scheduler reports them under.
package testlist

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/ethereum-optimism/op-testr/types"
)

// Package is a directory holding at least one _test.go file.
type Package struct {
	ImportPath string
	Dir        string
}

// ModulePath reads the module path declared by the go.mod in dir.
func ModulePath(dir string) (string, error) {
	goModPath := filepath.Join(dir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.Parse(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if modFile.Module == nil || modFile.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}
	return modFile.Module.Mod.Path, nil
}

// FindTestFunctions returns the names of the top-level Test functions declared
// in the _test.go files of dir, in file then declaration order.
func FindTestFunctions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var testFunctions []string
	fset := token.NewFileSet()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}

		f, err := parser.ParseFile(fset, filepath.Join(dir, entry.Name()), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}

		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil {
				continue
			}
			if types.IsGoTestName(funcDecl.Name.Name) {
				testFunctions = append(testFunctions, funcDecl.Name.Name)
			}
		}
	}
	return testFunctions, nil
}

// FindTestPackages walks the module rooted at root and returns the packages
// matching pattern. Patterns are "./...", "./dir/...", "./dir" or full import
// paths with or without a "/..." suffix.
func FindTestPackages(root, pattern string) ([]Package, error) {
	modPath, err := ModulePath(root)
	if err != nil {
		return nil, err
	}

	match, err := packageMatcher(modPath, pattern)
	if err != nil {
		return nil, err
	}

	var pkgs []Package
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if p != root && (name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			return filepath.SkipDir
		}
		if p != root {
			if _, err := os.Stat(filepath.Join(p, "go.mod")); err == nil {
				// nested module
				return filepath.SkipDir
			}
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		importPath := modPath
		if rel != "." {
			importPath = path.Join(modPath, filepath.ToSlash(rel))
		}
		if !match(importPath) {
			return nil
		}

		hasTests, err := hasTestFiles(p)
		if err != nil {
			return err
		}
		if hasTests {
			pkgs = append(pkgs, Package{ImportPath: importPath, Dir: p})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return pkgs, nil
}

func packageMatcher(modPath, pattern string) (func(string) bool, error) {
	if pattern == "" {
		pattern = "./..."
	}
	recursive := strings.HasSuffix(pattern, "/...") || pattern == "..."
	base := strings.TrimSuffix(strings.TrimSuffix(pattern, "..."), "/")

	switch {
	case base == "." || base == "":
		base = modPath
	case strings.HasPrefix(base, "./"):
		base = path.Join(modPath, strings.TrimPrefix(base, "./"))
	case base != modPath && !strings.HasPrefix(base, modPath+"/"):
		return nil, fmt.Errorf("package %s is not in module %s", base, modPath)
	}

	return func(importPath string) bool {
		if importPath == base {
			return true
		}
		return recursive && strings.HasPrefix(importPath, base+"/")
	}, nil
}

func hasTestFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(entries, func(e fs.DirEntry) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), "_test.go")
	}), nil
}

// FindTestIDs lists "<import path>.<TestName>" for every test in the packages
// matching patterns, sorted.
func FindTestIDs(root string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, pattern := range patterns {
		pkgs, err := FindTestPackages(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			if seen[pkg.ImportPath] {
				continue
			}
			seen[pkg.ImportPath] = true

			funcs, err := FindTestFunctions(pkg.Dir)
			if err != nil {
				return nil, fmt.Errorf("failed to list tests of %s: %w", pkg.ImportPath, err)
			}
			for _, fn := range funcs {
				ids = append(ids, pkg.ImportPath+"."+fn)
			}
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// SplitTestID splits a go test id into import path and test name at the
// first ".Test" boundary, so dots and slashes inside subtest names stay with
// the test name.
func SplitTestID(id string) (pkg, test string, ok bool) {
	return types.SplitGoTestID(id)
}

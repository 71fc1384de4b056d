package domain_test

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/gantry-dev/gantry"

// The domain layer depends inward only: standard library, third-party
// matchers, sibling domain packages and the envelope value types. Adapters,
// the manager and host functions reach the domain through ports, never the
// other way around.
func TestDomainImportsStayInward(t *testing.T) {
	fset := token.NewFileSet()
	for _, file := range domainSources(t) {
		f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoError(t, err, "parse %s", file)

		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if !strings.HasPrefix(path, modulePath+"/") {
				continue
			}
			inward := strings.HasPrefix(path, modulePath+"/domain/") ||
				path == modulePath+"/envelope"
			assert.True(t, inward, "%s imports %s, which points outward", file, path)
		}
	}
}

// domainSources lists every non-test Go file across the domain packages,
// failing if a package has gone missing entirely.
func domainSources(t *testing.T) []string {
	t.Helper()

	var files []string
	for _, pkg := range []string{"entities", "errors", "ports", "policy"} {
		matches, err := filepath.Glob(filepath.Join("..", "domain", pkg, "*.go"))
		require.NoError(t, err)
		assert.NotEmpty(t, matches, "domain/%s should contain Go files", pkg)
		for _, m := range matches {
			if !strings.HasSuffix(m, "_test.go") {
				files = append(files, m)
			}
		}
	}
	require.NotEmpty(t, files)
	return files
}

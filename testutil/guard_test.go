package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestAdapterImportForbidden(t *testing.T) {
	cases := map[string]bool{
		"annotprop/internal/infra/persistence/sqlite": true,
		"github.com/jackc/pgx/v5/stdlib":              true,
		"modernc.org/sqlite":                          true,
		"github.com/aws/aws-sdk-go-v2/service/s3":     true,
		"annotprop/pkg/domain":                        false,
		"go.uber.org/zap":                             false,
	}
	for in, want := range cases {
		if got := AdapterImportForbidden(in); got != want {
			t.Fatalf("AdapterImportForbidden(%q)=%v want %v", in, got, want)
		}
	}
	if !InternalImportForbidden("annotprop/internal/derive") || InternalImportForbidden("annotprop/pkg/domain") {
		t.Fatalf("InternalImportForbidden misclassified")
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDirectImportViolationsIgnoresTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "x_test.go", "package tmp\nimport \"modernc.org/sqlite\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub.go"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	AssertNoDirectImports(t, dir, AdapterImportForbidden, "test files may use adapters")
}

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport _ \"modernc.org/sqlite\"\n")
	viols, err := directImportViolations(dir, AdapterImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite (in x.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	var r recorder
	failIfViolations(&r, "direct imports", "boundary", viols)
	if !strings.Contains(r.msg, "forbidden direct imports detected (boundary)") {
		t.Fatalf("unexpected failure message %q", r.msg)
	}
}

func TestTransitiveViolationsFromGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nannotprop/pkg/domain\nannotprop/internal/infra/persistence/memory\n\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", AdapterImportForbidden)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(viols) != 1 || viols[0] != "annotprop/internal/infra/persistence/memory" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

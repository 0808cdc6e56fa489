package archive

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"testing/fstest"

	"golang.org/x/tools/txtar"
)

const (
	// BundleMain is the test program entry inside a bundle.
	BundleMain = "main.go"

	// StudentDir holds the student's code inside a bundle.
	StudentDir = "student"

	// StudentImportPath is the import path test programs use to reach the
	// student's code.
	StudentImportPath = "kata/student"

	// GoPath is the GOPATH root of the filesystem returned by ParseBundle.
	GoPath = "gopath"
)

var packageClause = regexp.MustCompile(`(?m)^package\s+\w+`)

// StudentPackage rewrites the package clause of src so it can be imported
// as StudentImportPath.
func StudentPackage(src string) string {
	loc := packageClause.FindStringIndex(src)
	if loc == nil {
		return "package student\n\n" + src
	}
	return src[:loc[0]] + "package student" + src[loc[1]:]
}

// TestProgram bundles a test program with the student's code. The result is
// a txtar archive suitable for a run_tests message.
func TestProgram(testSource, studentCode string) string {
	ar := &txtar.Archive{
		Comment: []byte("kata test bundle\n"),
		Files: []txtar.File{
			{Name: BundleMain, Data: []byte(ensureNewline(testSource))},
			{Name: path.Join(StudentDir, "student.go"), Data: []byte(ensureNewline(StudentPackage(studentCode)))},
		},
	}
	return string(txtar.Format(ar))
}

// ParseBundle unpacks a bundle built by TestProgram into an in-memory
// filesystem: the test program at BundleMain and student files under
// GoPath/src/StudentImportPath.
func ParseBundle(bundle string) (fs.FS, error) {
	ar := txtar.Parse([]byte(bundle))

	fsys := fstest.MapFS{}
	var hasMain bool
	for _, f := range ar.Files {
		name := path.Clean(f.Name)
		switch {
		case name == BundleMain:
			hasMain = true
			fsys[name] = &fstest.MapFile{Data: f.Data, Mode: 0o644}
		case strings.HasPrefix(name, StudentDir+"/"):
			rel := strings.TrimPrefix(name, StudentDir+"/")
			fsys[path.Join(GoPath, "src", StudentImportPath, rel)] = &fstest.MapFile{Data: f.Data, Mode: 0o644}
		default:
			return nil, fmt.Errorf("unexpected bundle file %q", f.Name)
		}
	}

	if !hasMain {
		return nil, fmt.Errorf("bundle has no %s", BundleMain)
	}
	return fsys, nil
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// Package archive loads exercises from disk and builds the bundles the
// sandbox runs for test mode.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file that marks a directory as an exercise.
const ManifestName = "exercise.yaml"

// ErrNoManifest is returned by Load when the directory has no manifest.
var ErrNoManifest = errors.New("no " + ManifestName)

// Exercise is a single programming task: the starting code shown in the
// editor and the test program that checks it.
type Exercise struct {
	Slug         string `yaml:"slug" json:"slug"`
	Title        string `yaml:"title" json:"title"`
	Instructions string `yaml:"instructions" json:"instructions"`
	MainFile     string `yaml:"main_file" json:"main_file"`
	TestFile     string `yaml:"test_file" json:"-"`

	Template   string `yaml:"-" json:"template"`
	TestSource string `yaml:"-" json:"-"`
	Dir        string `yaml:"-" json:"-"`
}

// HasTests reports whether the exercise ships a test program.
func (e *Exercise) HasTests() bool {
	return e.TestSource != ""
}

// Files returns the submission file set for the given student code.
func (e *Exercise) Files(code string) map[string]string {
	return map[string]string{e.MainFile: code}
}

// Load reads the exercise in dir.
func Load(dir string) (*Exercise, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoManifest)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var ex Exercise
	if err := yaml.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	ex.Dir = dir
	if ex.Slug == "" {
		ex.Slug = filepath.Base(dir)
	}
	if ex.Title == "" {
		ex.Title = ex.Slug
	}
	if ex.MainFile == "" {
		ex.MainFile = "main.go"
	}

	tmpl, err := os.ReadFile(filepath.Join(dir, ex.MainFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ex.MainFile, err)
	}
	ex.Template = string(tmpl)

	if ex.TestFile != "" {
		src, err := os.ReadFile(filepath.Join(dir, ex.TestFile))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", ex.TestFile, err)
		}
		ex.TestSource = string(src)
	}

	return &ex, nil
}

// LoadAll loads every exercise directly under root, sorted by slug.
// Directories without a manifest are skipped.
func LoadAll(root string) ([]*Exercise, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading exercises dir: %w", err)
	}

	var exercises []*Exercise
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ex, err := Load(filepath.Join(root, e.Name()))
		if errors.Is(err, ErrNoManifest) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", e.Name(), err)
		}
		exercises = append(exercises, ex)
	}

	sort.Slice(exercises, func(i, j int) bool {
		return exercises[i].Slug < exercises[j].Slug
	})
	return exercises, nil
}

// Catalog indexes exercises by slug.
type Catalog struct {
	list   []*Exercise
	bySlug map[string]*Exercise
}

// NewCatalog builds a Catalog from a loaded list.
func NewCatalog(exercises []*Exercise) *Catalog {
	c := &Catalog{list: exercises, bySlug: make(map[string]*Exercise, len(exercises))}
	for _, ex := range exercises {
		c.bySlug[ex.Slug] = ex
	}
	return c
}

// Get returns the exercise with the given slug.
func (c *Catalog) Get(slug string) (*Exercise, bool) {
	ex, ok := c.bySlug[slug]
	return ex, ok
}

// List returns all exercises in slug order.
func (c *Catalog) List() []*Exercise {
	return c.list
}

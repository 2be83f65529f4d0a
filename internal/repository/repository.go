// Package repository keeps the in-memory catalogue of local project
// checkouts the dashboard knows about.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/devdash/internal/validation"
)

var (
	ErrNotFound     = errors.New("repository not found")
	ErrPathNotFound = errors.New("repository path does not exist")
	ErrValidation   = errors.New("validation failed")
)

var (
	Types           = []string{"vite", "next", "react", "node", "unknown"}
	PackageManagers = []string{"npm", "pnpm", "yarn", "bun"}
)

// configCandidates are probed in this order when a repository is added.
var configCandidates = []string{
	"vite.config.js",
	"vite.config.ts",
	"next.config.js",
	"next.config.ts",
	"webpack.config.js",
	"rollup.config.js",
	"tsconfig.json",
	"tailwind.config.js",
	"postcss.config.js",
	".eslintrc.js",
	".eslintrc.json",
	"prettier.config.js",
}

type Repository struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Path           string         `json:"path"`
	Type           string         `json:"type"`
	PackageManager string         `json:"packageManager"`
	LastAccessed   time.Time      `json:"lastAccessed"`
	IsActive       bool           `json:"isActive"`
	PackageJSON    map[string]any `json:"packageJson,omitempty"`
	ConfigFiles    []string       `json:"configFiles,omitempty"`
}

type CreateInput struct {
	Name           string `json:"name"`
	Path           string `json:"path"`
	Type           string `json:"type"`
	PackageManager string `json:"packageManager"`
}

type UpdateInput struct {
	Name           *string `json:"name,omitempty"`
	Path           *string `json:"path,omitempty"`
	Type           *string `json:"type,omitempty"`
	PackageManager *string `json:"packageManager,omitempty"`
}

// Query filters List. Page and Limit below 1 default to 1 and 10.
type Query struct {
	Search         string
	Type           string
	PackageManager string
	Page           int
	Limit          int
}

type Store struct {
	mu    sync.RWMutex
	repos []*Repository
	log   *slog.Logger
}

func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{log: log.With("component", "repository")}
}

// List returns one page of matching repositories and the number of matches.
func (s *Store) List(q Query) ([]Repository, int) {
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	search := strings.ToLower(q.Search)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*Repository
	for _, r := range s.repos {
		if search != "" && !strings.Contains(strings.ToLower(r.Name), search) && !strings.Contains(strings.ToLower(r.Path), search) {
			continue
		}
		if q.Type != "" && r.Type != q.Type {
			continue
		}
		if q.PackageManager != "" && r.PackageManager != q.PackageManager {
			continue
		}
		matched = append(matched, r)
	}

	start := (page - 1) * limit
	out := []Repository{}
	for i := start; i < len(matched) && i < start+limit; i++ {
		out = append(out, matched[i].clone())
	}
	return out, len(matched)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.repos)
}

func (s *Store) Get(id string) (Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.find(id)
	if r == nil {
		return Repository{}, ErrNotFound
	}
	return r.clone(), nil
}

// Create registers a checkout at in.Path, reading its package.json and
// noting which known config files it has.
func (s *Store) Create(in CreateInput) (Repository, error) {
	if err := validateCreate(in); err != nil {
		return Repository{}, err
	}
	if _, err := os.Stat(in.Path); err != nil {
		return Repository{}, fmt.Errorf("%w: %s", ErrPathNotFound, in.Path)
	}

	r := &Repository{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Path:           in.Path,
		Type:           in.Type,
		PackageManager: in.PackageManager,
		LastAccessed:   time.Now(),
		ConfigFiles:    detectConfigFiles(in.Path),
	}
	pkg, err := readPackageJSON(in.Path)
	if err != nil {
		s.log.Warn("could not read package.json", "name", in.Name, "path", in.Path, "error", err)
	}
	r.PackageJSON = pkg

	s.mu.Lock()
	s.repos = append(s.repos, r)
	s.mu.Unlock()
	return r.clone(), nil
}

// Update merges in. The path is taken as given and not re-scanned.
func (s *Store) Update(id string, in UpdateInput) (Repository, error) {
	v := validation.New(ErrValidation)
	if in.Name != nil {
		v.Require("name", *in.Name)
	}
	if in.Path != nil {
		v.Require("path", *in.Path)
	}
	if in.Type != nil && !slices.Contains(Types, *in.Type) {
		v.Add("type", "must be one of "+strings.Join(Types, ", "))
	}
	if in.PackageManager != nil && !slices.Contains(PackageManagers, *in.PackageManager) {
		v.Add("packageManager", "must be one of "+strings.Join(PackageManagers, ", "))
	}
	if err := v.Err(); err != nil {
		return Repository{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	if r == nil {
		return Repository{}, ErrNotFound
	}
	if in.Name != nil {
		r.Name = *in.Name
	}
	if in.Path != nil {
		r.Path = *in.Path
	}
	if in.Type != nil {
		r.Type = *in.Type
	}
	if in.PackageManager != nil {
		r.PackageManager = *in.PackageManager
	}
	return r.clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.repos {
		if r.ID == id {
			s.repos = append(s.repos[:i], s.repos[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Touch stamps LastAccessed. Unknown ids are ignored.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(id); r != nil {
		r.LastAccessed = time.Now()
	}
}

// WorkDir returns the directory scripts of id run in, or "" when the
// repository is unknown or its path is missing on disk.
func (s *Store) WorkDir(id string) string {
	s.mu.RLock()
	r := s.find(id)
	var path string
	if r != nil {
		path = r.Path
	}
	s.mu.RUnlock()

	if path == "" {
		return ""
	}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return ""
	}
	return path
}

// Scripts returns the "scripts" table of the repository's package.json.
func (s *Store) Scripts(id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.find(id)
	if r == nil {
		return nil, ErrNotFound
	}
	out := map[string]string{}
	raw, _ := r.PackageJSON["scripts"].(map[string]any)
	for k, v := range raw {
		if cmd, ok := v.(string); ok {
			out[k] = cmd
		}
	}
	return out, nil
}

// SeedMock adds the two sample repositories when the store is empty.
func (s *Store) SeedMock() []Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.repos) > 0 {
		return nil
	}
	now := time.Now()
	s.repos = []*Repository{
		{
			ID:             "1",
			Name:           "my-vite-app",
			Path:           "/Users/dev/projects/my-vite-app",
			Type:           "vite",
			PackageManager: "npm",
			LastAccessed:   now.Add(-30 * time.Minute),
			PackageJSON: map[string]any{
				"name":    "my-vite-app",
				"version": "1.0.0",
				"scripts": map[string]any{"dev": "vite", "build": "vite build", "preview": "vite preview"},
			},
			ConfigFiles: []string{"vite.config.ts", "tsconfig.json"},
		},
		{
			ID:             "2",
			Name:           "next-dashboard",
			Path:           "/Users/dev/projects/next-dashboard",
			Type:           "next",
			PackageManager: "pnpm",
			LastAccessed:   now.Add(-2 * time.Hour),
			PackageJSON: map[string]any{
				"name":    "next-dashboard",
				"version": "0.1.0",
				"scripts": map[string]any{"dev": "next dev", "build": "next build", "start": "next start"},
			},
			ConfigFiles: []string{"next.config.js", "tsconfig.json"},
		},
	}
	out := make([]Repository, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r.clone())
	}
	return out
}

func (s *Store) find(id string) *Repository {
	for _, r := range s.repos {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (r *Repository) clone() Repository {
	c := *r
	if r.ConfigFiles != nil {
		c.ConfigFiles = append([]string(nil), r.ConfigFiles...)
	}
	return c
}

func validateCreate(in CreateInput) error {
	v := validation.New(ErrValidation)
	v.Require("name", in.Name)
	v.Require("path", in.Path)
	if !slices.Contains(Types, in.Type) {
		v.Add("type", "must be one of "+strings.Join(Types, ", "))
	}
	if !slices.Contains(PackageManagers, in.PackageManager) {
		v.Add("packageManager", "must be one of "+strings.Join(PackageManagers, ", "))
	}
	return v.Err()
}

func readPackageJSON(dir string) (map[string]any, error) {
	b, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}
	var pkg map[string]any
	if err := json.Unmarshal(b, &pkg); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	return pkg, nil
}

func detectConfigFiles(dir string) []string {
	found := []string{}
	for _, name := range configCandidates {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	return found
}

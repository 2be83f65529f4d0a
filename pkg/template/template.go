// Package template suggests starter scripts for a repository from its
// framework and package manager.
package template

import (
	"encoding/json"
	"fmt"
)

// RepoType is the framework a repository was detected as.
type RepoType string

const (
	TypeVite    RepoType = "vite"
	TypeNext    RepoType = "next"
	TypeReact   RepoType = "react"
	TypeNode    RepoType = "node"
	TypeUnknown RepoType = "unknown"
)

// Script is a suggested script entry, ready to POST to /api/scripts once a
// repositoryId is added.
type Script struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the usual scripts for repoType, run through
// packageManager. An empty packageManager means npm.
func (g *Generator) Generate(repoType RepoType, packageManager string) ([]Script, error) {
	if packageManager == "" {
		packageManager = "npm"
	}
	switch packageManager {
	case "npm", "pnpm", "yarn", "bun":
	default:
		return nil, fmt.Errorf("unknown package manager: %s (supported: npm, pnpm, yarn, bun)", packageManager)
	}

	var names []string
	switch repoType {
	case TypeVite:
		names = []string{"dev", "build", "preview", "lint"}
	case TypeNext:
		names = []string{"dev", "build", "start", "lint"}
	case TypeReact:
		names = []string{"start", "build", "test"}
	case TypeNode:
		names = []string{"start", "dev", "test"}
	case TypeUnknown, "":
		names = []string{"start"}
	default:
		return nil, fmt.Errorf("unknown repository type: %s (supported: vite, next, react, node, unknown)", repoType)
	}

	out := make([]Script, 0, len(names))
	for _, n := range names {
		out = append(out, Script{Name: n, Command: runCommand(packageManager, n)})
	}
	return out, nil
}

func (g *Generator) GenerateJSON(repoType RepoType, packageManager string) ([]byte, error) {
	scripts, err := g.Generate(repoType, packageManager)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(scripts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

func (g *Generator) SupportedTypes() []string {
	return []string{
		string(TypeVite),
		string(TypeNext),
		string(TypeReact),
		string(TypeNode),
		string(TypeUnknown),
	}
}

// runCommand uses the package manager's shorthand where npm has one.
func runCommand(pm, name string) string {
	if pm == "npm" && (name == "start" || name == "test") {
		return "npm " + name
	}
	return pm + " run " + name
}

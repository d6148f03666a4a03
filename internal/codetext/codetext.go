// Package codetext maps (category, code) pairs to display strings. The
// catalog is built and validated once at startup; lookups after that are
// plain map reads.
package codetext

import (
	"fmt"
	"strings"
)

// Category groups codes that share an enum.
type Category string

const (
	CategoryGroupStatus   Category = "group.status"
	CategoryProjectStatus Category = "project.status"
	CategoryProjectType   Category = "project.type"
	CategoryJobType       Category = "job.type"
	CategoryExecStatus    Category = "exec.status"
)

// Catalog resolves enum codes to human-readable text.
type Catalog struct {
	entries map[Category]map[int]string
}

// NewCatalog validates and builds a catalog. It fails on empty text or
// duplicate codes so misconfiguration surfaces at startup, not per lookup.
func NewCatalog(entries map[Category]map[int]string) (*Catalog, error) {
	for category, codes := range entries {
		if strings.TrimSpace(string(category)) == "" {
			return nil, fmt.Errorf("codetext: empty category")
		}
		if len(codes) == 0 {
			return nil, fmt.Errorf("codetext: category %q has no codes", category)
		}
		for code, text := range codes {
			if strings.TrimSpace(text) == "" {
				return nil, fmt.Errorf("codetext: empty text for %q code %d", category, code)
			}
		}
	}
	copied := make(map[Category]map[int]string, len(entries))
	for category, codes := range entries {
		inner := make(map[int]string, len(codes))
		for code, text := range codes {
			inner[code] = text
		}
		copied[category] = inner
	}
	return &Catalog{entries: copied}, nil
}

// Text returns the display string for a code, or empty when unknown.
func (c *Catalog) Text(category Category, code int) string {
	if c == nil {
		return ""
	}
	return c.entries[category][code]
}

// Default returns the catalog used by the API service.
func Default() (*Catalog, error) {
	return NewCatalog(map[Category]map[int]string{
		CategoryGroupStatus: {
			1: "active",
			2: "archived",
		},
		CategoryProjectStatus: {
			1: "active",
			2: "archived",
		},
		CategoryProjectType: {
			1: "service",
			2: "web",
			3: "library",
		},
		CategoryJobType: {
			1: "build",
			2: "deploy",
		},
		CategoryExecStatus: {
			0: "pending",
			1: "running",
			2: "success",
			3: "failed",
		},
	})
}

package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"conductor/internal/domain"
)

// maxEntryFileSize is the maximum allowed catalog file size (1 MiB).
const maxEntryFileSize = 1 << 20

// frontmatter is the typed header of a catalog markdown file.
type frontmatter struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"` // accepted as an alias for id
	Description  string   `yaml:"description"`
	TriggerTerms []string `yaml:"trigger_terms"`
	Tags         []string `yaml:"tags"`
}

// FileCatalog loads agent and skill definitions from markdown files
// with YAML frontmatter. Two layouts are supported per directory:
//
//   - Flat: dir/*.md (one file per entry)
//   - Subdirectory: dir/<name>/AGENT.md or dir/<name>/SKILL.md
//
// A malformed entry is logged and skipped; one bad file never takes
// down the whole catalog.
type FileCatalog struct {
	agentsDir string
	skillsDir string
	logger    *slog.Logger

	mu     sync.RWMutex
	agents []domain.CatalogEntry
	skills []domain.CatalogEntry
	byID   map[string]domain.CatalogEntry
}

// NewFileCatalog creates a catalog over the given directories.
func NewFileCatalog(agentsDir, skillsDir string, logger *slog.Logger) *FileCatalog {
	return &FileCatalog{
		agentsDir: agentsDir,
		skillsDir: skillsDir,
		logger:    logger,
		byID:      make(map[string]domain.CatalogEntry),
	}
}

// Load reads both directories. Missing directories yield an empty
// catalog section, not an error.
func (c *FileCatalog) Load() error {
	agents, err := c.loadDir(c.agentsDir, domain.EntryAgent, "AGENT.md")
	if err != nil {
		return err
	}
	skills, err := c.loadDir(c.skillsDir, domain.EntrySkill, "SKILL.md")
	if err != nil {
		return err
	}

	byID := make(map[string]domain.CatalogEntry, len(agents)+len(skills))
	for _, e := range agents {
		byID[e.ID] = e
	}
	for _, e := range skills {
		byID[e.ID] = e
	}

	c.mu.Lock()
	c.agents = agents
	c.skills = skills
	c.byID = byID
	c.mu.Unlock()

	c.logger.Info("catalog loaded", "agents", len(agents), "skills", len(skills))
	return nil
}

func (c *FileCatalog) loadDir(dir string, kind domain.EntryKind, markerName string) ([]domain.CatalogEntry, error) {
	if dir == "" {
		return nil, nil
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Debug("catalog directory does not exist", "dir", dir)
			return nil, nil
		}
		return nil, domain.NewSubSystemError("catalog", "FileCatalog.Load", domain.ErrConfigLoad, err.Error())
	}

	// Deterministic load order: entry Order is the tie-breaker for
	// equal-confidence candidates downstream.
	names := make([]string, 0, len(dirEntries))
	byName := make(map[string]os.DirEntry, len(dirEntries))
	for _, e := range dirEntries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}
	sort.Strings(names)

	seen := make(map[string]string) // id -> path
	var entries []domain.CatalogEntry
	for _, name := range names {
		dirEntry := byName[name]
		var path string
		if dirEntry.IsDir() {
			candidate := filepath.Join(dir, name, markerName)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			path = candidate
		} else if strings.HasSuffix(name, ".md") {
			path = filepath.Join(dir, name)
		} else {
			continue
		}

		entry, err := c.loadEntry(path, kind)
		if err != nil {
			c.logger.Warn("skip invalid catalog entry", "path", path, "error", err)
			continue
		}
		if prev, dup := seen[entry.ID]; dup {
			c.logger.Warn("skip duplicate catalog id", "id", entry.ID, "path", path, "first", prev)
			continue
		}
		seen[entry.ID] = path
		entry.Order = len(entries)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *FileCatalog) loadEntry(path string, kind domain.EntryKind) (domain.CatalogEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	if info.Size() > maxEntryFileSize {
		return domain.CatalogEntry{}, fmt.Errorf("file too large (%d bytes, max %d)", info.Size(), maxEntryFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	return parseEntry(string(data), kind)
}

// parseEntry splits a markdown document into YAML frontmatter and body.
func parseEntry(content string, kind domain.EntryKind) (domain.CatalogEntry, error) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "---") {
		return domain.CatalogEntry{}, fmt.Errorf("missing frontmatter delimiter")
	}
	parts := strings.SplitN(content[3:], "\n---", 2)
	if len(parts) != 2 {
		return domain.CatalogEntry{}, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(parts[0]), &fm); err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	id := fm.ID
	if id == "" {
		id = fm.Name
	}
	if id == "" {
		return domain.CatalogEntry{}, domain.NewDomainError("parseEntry", domain.ErrCatalogEntry, "missing id")
	}
	if len(fm.TriggerTerms) == 0 && len(fm.Tags) == 0 {
		return domain.CatalogEntry{}, domain.NewDomainError("parseEntry", domain.ErrCatalogEntry,
			fmt.Sprintf("entry %q has neither trigger terms nor tags", id))
	}

	entry := domain.CatalogEntry{
		ID:           id,
		Kind:         kind,
		Description:  fm.Description,
		TriggerTerms: fm.TriggerTerms,
		Tags:         fm.Tags,
	}
	if kind == domain.EntrySkill {
		entry.Content = strings.TrimSpace(parts[1])
	}
	return entry, nil
}

// Agents returns the loaded agents in load order.
func (c *FileCatalog) Agents() []domain.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.CatalogEntry(nil), c.agents...)
}

// Skills returns the loaded skills in load order.
func (c *FileCatalog) Skills() []domain.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.CatalogEntry(nil), c.skills...)
}

// Get returns the entry with the given id.
func (c *FileCatalog) Get(id string) (*domain.CatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byID[id]
	if !ok {
		return nil, domain.NewSubSystemError("catalog", "FileCatalog.Get", domain.ErrNotFound, id)
	}
	return &entry, nil
}

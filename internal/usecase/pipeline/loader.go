package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"conductor/internal/domain"
)

// definitionSchema is the structural contract of a pipeline file.
// Dependency index arithmetic is checked separately in validateDefinition;
// the schema catches shape errors with a readable message.
const definitionSchema = `{
	"type": "object",
	"required": ["type", "trigger_phrases", "steps"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"trigger_phrases": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["agent_id"],
				"properties": {
					"agent_id": {"type": "string", "minLength": 1},
					"depends_on": {"type": "array", "items": {"type": "integer", "minimum": 0}},
					"estimated_budget": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`

// Loader reads pipeline definitions from a directory of YAML files.
// A malformed file is logged and skipped; it never poisons the rest.
type Loader struct {
	dir    string
	logger *slog.Logger
	schema *jsonschema.Schema

	defs atomic.Value // map[string]domain.PipelineDefinition, keyed by type
}

// NewLoader creates a loader for the given definition directory.
func NewLoader(dir string, logger *slog.Logger) (*Loader, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}
	l := &Loader{dir: dir, logger: logger, schema: schema}
	l.defs.Store(make(map[string]domain.PipelineDefinition))
	return l, nil
}

// Load reads all YAML definitions from the directory. A missing
// directory is not an error; the loader just holds no definitions.
func (l *Loader) Load() error {
	if l.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Debug("pipeline directory does not exist", "dir", l.dir)
			return nil
		}
		return domain.NewSubSystemError("pipeline", "Loader.Load", domain.ErrConfigLoad, err.Error())
	}

	loaded := make(map[string]domain.PipelineDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			l.logger.Warn("skip unreadable pipeline file", "file", entry.Name(), "error", err)
			continue
		}

		def, err := l.parseDefinition(data)
		if err != nil {
			l.logger.Warn("skip invalid pipeline file", "file", entry.Name(), "error", err)
			continue
		}
		if _, dup := loaded[def.Type]; dup {
			l.logger.Warn("skip duplicate pipeline type", "file", entry.Name(), "type", def.Type)
			continue
		}
		loaded[def.Type] = def
	}

	l.defs.Store(loaded)
	l.logger.Info("pipeline definitions loaded", "count", len(loaded))
	return nil
}

func (l *Loader) parseDefinition(data []byte) (domain.PipelineDefinition, error) {
	var def domain.PipelineDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parse yaml: %w", err)
	}

	// Round-trip through JSON so the schema sees canonical field names.
	raw, err := json.Marshal(def)
	if err != nil {
		return def, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return def, err
	}
	if result := l.schema.Validate(doc); !result.IsValid() {
		return def, fmt.Errorf("schema: %s", result.Error())
	}

	if err := validateDefinition(def); err != nil {
		return def, err
	}
	return def, nil
}

// validateDefinition checks dependency arithmetic the schema cannot
// express. Dependencies are forward-only: a step may only depend on
// earlier steps, which also rules out cycles.
func validateDefinition(def domain.PipelineDefinition) error {
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", def.Type)
	}
	if len(def.Steps[0].DependsOn) != 0 {
		return fmt.Errorf("pipeline %q: first step must have no dependencies", def.Type)
	}
	for i, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= len(def.Steps) {
				return fmt.Errorf("pipeline %q: step %d depends on out-of-range step %d", def.Type, i, dep)
			}
			if dep >= i {
				return fmt.Errorf("pipeline %q: step %d depends on later step %d", def.Type, i, dep)
			}
		}
	}
	return nil
}

// Definitions returns all loaded definitions sorted by type, so
// callers that scan for the first matching trigger behave the same on
// every run.
func (l *Loader) Definitions() []domain.PipelineDefinition {
	dm := l.defs.Load().(map[string]domain.PipelineDefinition)
	result := make([]domain.PipelineDefinition, 0, len(dm))
	for _, def := range dm {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// Definition returns the definition for a pipeline type, or nil.
func (l *Loader) Definition(pipelineType string) *domain.PipelineDefinition {
	dm := l.defs.Load().(map[string]domain.PipelineDefinition)
	if def, ok := dm[pipelineType]; ok {
		return &def
	}
	return nil
}

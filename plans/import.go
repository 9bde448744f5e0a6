/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/PivotLLM/Planwright/global"
	"github.com/PivotLLM/Planwright/templates"
)

// planFile is the shape of an importable plan
type planFile struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Metadata    map[string]any    `json:"metadata"`
	Nodes       []global.TaskNode `json:"nodes"`
}

// Import reads a plan from a JSON or YAML file and stores it as a new plan.
// The format is chosen by extension. The plan is tagged with a fresh import id.
func (r *Repository) Import(path string) (*global.PlanTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return r.ImportDocument(data, filepath.Ext(path), filepath.Base(path))
}

// ImportDocument stores a plan document in the format named by ext
// (".json", ".yaml" or ".yml"; the leading dot is optional)
func (r *Repository) ImportDocument(data []byte, ext, source string) (*global.PlanTree, error) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	switch ext {
	case ".yaml", ".yml":
		var err error
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported plan file type %q (use .json, .yaml or .yml)", ext)
	}

	return r.ImportJSON(data, source)
}

// ImportJSON validates a JSON plan document and stores it as a new plan.
// source names the document in logs and metadata.
func (r *Repository) ImportJSON(data []byte, source string) (*global.PlanTree, error) {
	result, err := r.validator.ValidateJSON(data, templates.PlanImportSchema)
	if err != nil {
		return nil, fmt.Errorf("invalid plan document: %w", err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("invalid plan document: %s", strings.Join(result.Errors, "; "))
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to decode plan document: %w", err)
	}

	metadata := pf.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	importID := uuid.NewString()
	metadata[global.MetaImportID] = importID
	if source != "" {
		metadata[global.MetaImportSource] = source
	}

	tree, err := r.CreatePlan(pf.Title, pf.Description, metadata, pf.Nodes)
	if err != nil {
		return nil, err
	}
	r.logger.Infof("Imported plan: id=%d source=%s import_id=%s", tree.ID, source, importID)
	return tree, nil
}

// yamlToJSON converts a YAML document to JSON so that both formats share one schema
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(jsonCompatible(doc))
}

// jsonCompatible replaces the map[any]any values yaml produces for
// non-string keys with string-keyed maps
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = jsonCompatible(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = jsonCompatible(item)
		}
		return t
	default:
		return v
	}
}

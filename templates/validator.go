/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package templates provides the collaborator prompts, the JSON schemas their
// replies must satisfy, and the extraction and validation of those replies.
package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/xeipuuv/gojsonschema"
)

// Validator validates JSON data against schemas. Compiled schemas are cached by content.
type Validator struct {
	mu          sync.Mutex
	schemaCache map[string]*gojsonschema.Schema
}

// ValidationResult represents the result of a validation
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors,omitempty"`     // User-friendly error messages
	RawErrors []string `json:"raw_errors,omitempty"` // Original error messages from validator
}

// New creates a new Validator
func New() *Validator {
	return &Validator{
		schemaCache: make(map[string]*gojsonschema.Schema),
	}
}

// compile returns the cached schema for schemaJSON, compiling it on first use
func (v *Validator) compile(schemaJSON string) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if schema, ok := v.schemaCache[schemaJSON]; ok {
		return schema, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	v.schemaCache[schemaJSON] = schema
	return schema, nil
}

// ValidateJSON validates JSON data against a schema string
func (v *Validator) ValidateJSON(data []byte, schemaJSON string) (*ValidationResult, error) {
	schema, err := v.compile(schemaJSON)
	if err != nil {
		return nil, err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	validationResult := &ValidationResult{
		Valid: result.Valid(),
	}

	if !result.Valid() {
		for _, desc := range result.Errors() {
			rawError := desc.String()
			validationResult.RawErrors = append(validationResult.RawErrors, rawError)
			validationResult.Errors = append(validationResult.Errors, formatValidationError(rawError))
		}
	}

	return validationResult, nil
}

// Decode extracts the JSON payload from a collaborator reply, validates it
// against schemaJSON and unmarshals it into out.
func (v *Validator) Decode(reply, schemaJSON string, out interface{}) error {
	payload := ExtractJSON(reply)
	if payload == "" {
		return fmt.Errorf("reply is empty")
	}

	result, err := v.ValidateJSON([]byte(payload), schemaJSON)
	if err != nil {
		return fmt.Errorf("reply is not valid JSON: %w", err)
	}
	if !result.Valid {
		return fmt.Errorf("reply does not match schema: %s", strings.Join(result.Errors, "; "))
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	return nil
}

// formatValidationError converts technical validation errors to user-friendly messages
func formatValidationError(rawError string) string {
	// Common patterns from gojsonschema:
	// "(root): field is required" -> "Missing required field: field"
	// "(root): Additional property x is not allowed" -> "Unexpected field: x (not allowed by schema)"
	// "field: Invalid type. Expected: string, given: number" -> "Field 'field': expected string, got number"

	if strings.Contains(rawError, "is required") {
		parts := strings.SplitN(rawError, ": ", 2)
		if len(parts) == 2 {
			fieldName := strings.TrimSuffix(parts[1], " is required")
			if strings.HasPrefix(parts[0], "(root).") {
				context := strings.TrimPrefix(parts[0], "(root).")
				return fmt.Sprintf("Missing required field: %s (in %s)", fieldName, context)
			}
			return fmt.Sprintf("Missing required field: %s", fieldName)
		}
	}

	if strings.Contains(rawError, "Additional property") {
		parts := strings.SplitN(rawError, "Additional property ", 2)
		if len(parts) == 2 {
			fieldPart := strings.TrimSuffix(parts[1], " is not allowed")
			return fmt.Sprintf("Unexpected field: %s (not allowed by schema)", fieldPart)
		}
	}

	if strings.Contains(rawError, "Invalid type") {
		parts := strings.SplitN(rawError, ": Invalid type. ", 2)
		if len(parts) == 2 {
			field := parts[0]
			if field == "(root)" {
				field = "root object"
			}
			typeInfo := strings.ReplaceAll(parts[1], "Expected: ", "expected ")
			typeInfo = strings.ReplaceAll(typeInfo, ", given: ", ", got ")
			return fmt.Sprintf("Field '%s': %s", field, typeInfo)
		}
	}

	if strings.Contains(rawError, "must be one of the following") {
		parts := strings.SplitN(rawError, ": ", 2)
		if len(parts) == 2 {
			field := parts[0]
			if field == "(root)" {
				field = "root value"
			}
			return fmt.Sprintf("Field '%s': %s", field, parts[1])
		}
	}

	if strings.HasPrefix(rawError, "(root): ") {
		return strings.TrimPrefix(rawError, "(root): ")
	}
	if strings.HasPrefix(rawError, "(root).") {
		return strings.TrimPrefix(rawError, "(root).")
	}

	return rawError
}

// PopulateTemplate populates a Go template with data
func PopulateTemplate(templateContent string, data interface{}) (string, error) {
	tmpl, err := template.New("template").Funcs(templateFuncs()).Parse(templateContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// templateFuncs returns custom template functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v interface{}) string {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return string(data)
		},
		"truncate": func(s string, length int) string {
			if len(s) <= length {
				return s
			}
			return s[:length] + "..."
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join":  strings.Join,
		"trim":  strings.TrimSpace,
		"default": func(def, value interface{}) interface{} {
			if value == nil {
				return def
			}
			if s, ok := value.(string); ok && s == "" {
				return def
			}
			return value
		},
	}
}

// ExtractJSON extracts JSON from a response that may be wrapped in various ways:
// 1. LLM client wrapper: {"text": "...actual content..."}
// 2. Markdown code fences: ```json\n{...}\n```
// 3. Prose before/after the JSON object
//
// It returns the innermost valid JSON object, or the original string if none found.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	response = unwrapTextWrapper(response)

	if extracted := extractFromCodeFence(response); extracted != "" {
		return extracted
	}

	// Try object or array, whichever comes first
	firstBrace := strings.Index(response, "{")
	firstBracket := strings.Index(response, "[")

	if firstBrace != -1 && (firstBracket == -1 || firstBrace < firstBracket) {
		if extracted := extractJSONObject(response); extracted != "" {
			return extracted
		}
		if extracted := extractJSONArray(response); extracted != "" {
			return extracted
		}
	} else if firstBracket != -1 {
		if extracted := extractJSONArray(response); extracted != "" {
			return extracted
		}
		if extracted := extractJSONObject(response); extracted != "" {
			return extracted
		}
	}

	return response
}

// unwrapTextWrapper checks if the response is wrapped in {"text": "..."} and extracts the inner content
func unwrapTextWrapper(response string) string {
	if !strings.HasPrefix(response, "{") {
		return response
	}

	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(response), &generic); err != nil || len(generic) != 1 {
		return response
	}
	if text, ok := generic["text"].(string); ok && text != "" {
		return strings.TrimSpace(text)
	}
	return response
}

// extractFromCodeFence extracts JSON from markdown code fences like ```json\n{...}\n```
func extractFromCodeFence(response string) string {
	patterns := []string{"```json\n", "```json\r\n", "```\n{", "```\r\n{", "```\n[", "```\r\n["}

	for _, pattern := range patterns {
		startIdx := strings.Index(response, pattern)
		if startIdx == -1 {
			continue
		}

		contentStart := startIdx + len(pattern)
		if strings.HasSuffix(pattern, "{") || strings.HasSuffix(pattern, "[") {
			contentStart-- // include the opening brace or bracket
		}

		remaining := response[contentStart:]
		endIdx := strings.Index(remaining, "```")
		if endIdx == -1 {
			continue
		}

		content := strings.TrimSpace(remaining[:endIdx])
		var js json.RawMessage
		if json.Unmarshal([]byte(content), &js) == nil {
			return content
		}
	}

	return ""
}

// extractJSONObject finds the first valid JSON object in the response
func extractJSONObject(response string) string {
	return extractDelimited(response, '{', '}')
}

// extractJSONArray finds the first valid JSON array in the response
func extractJSONArray(response string) string {
	return extractDelimited(response, '[', ']')
}

// extractDelimited tries the widest open..close span first, then each closing
// delimiter in turn, returning the first span that parses as JSON.
func extractDelimited(response string, open, close byte) string {
	first := strings.IndexByte(response, open)
	if first == -1 {
		return ""
	}
	last := strings.LastIndexByte(response, close)
	if last == -1 || last <= first {
		return ""
	}

	var js json.RawMessage
	candidate := response[first : last+1]
	if json.Unmarshal([]byte(candidate), &js) == nil {
		return candidate
	}

	for i := first; i < len(response); i++ {
		if response[i] == close {
			candidate := response[first : i+1]
			if json.Unmarshal([]byte(candidate), &js) == nil {
				return candidate
			}
		}
	}

	return ""
}

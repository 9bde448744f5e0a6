/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package templates

// CodeSchema is the reply shape of the code generator for generate, patch and redesign
const CodeSchema = `{
  "type": "object",
  "required": ["code", "description"],
  "properties": {
    "code": {"type": "string"},
    "description": {"type": "string"},
    "has_visualization": {"type": "boolean"},
    "visualization_purpose": {"type": ["string", "null"]},
    "visualization_analysis": {"type": ["string", "null"]}
  }
}`

// ClassificationSchema is the reply shape of the task classifier
const ClassificationSchema = `{
  "type": "object",
  "required": ["task_type"],
  "properties": {
    "task_type": {
      "type": "string",
      "enum": ["code_required", "text_only", "data_summary"]
    },
    "reason": {"type": "string"}
  }
}`

// SimilarPairsSchema is the reply shape of the batch similarity question
const SimilarPairsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id1", "id2", "similarity"],
    "properties": {
      "id1": {"type": "integer"},
      "id2": {"type": "integer"},
      "similarity": {"type": "number", "minimum": 0, "maximum": 1},
      "reason": {"type": "string"}
    }
  }
}`

// ShouldMergeSchema is the reply shape of the pair-specific merge question
const ShouldMergeSchema = `{
  "type": "object",
  "required": ["can_merge"],
  "properties": {
    "can_merge": {"type": "boolean"},
    "similarity": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  }
}`

// PlanImportSchema validates hand-written plan files before they are stored
const PlanImportSchema = `{
  "type": "object",
  "required": ["title", "nodes"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "metadata": {"type": "object"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "name": {"type": "string", "minLength": 1},
          "instruction": {"type": "string"},
          "parent_id": {"type": ["integer", "null"]},
          "position": {"type": "integer"},
          "dependencies": {"type": "array", "items": {"type": "integer"}},
          "metadata": {"type": "object"}
        }
      }
    }
  }
}`

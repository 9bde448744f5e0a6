/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package templates

import (
	"bytes"
	"fmt"
	"text/template"
)

// Prompt names accepted by Render
const (
	PromptGenerate     = "generate"
	PromptPatch        = "patch"
	PromptRedesign     = "redesign"
	PromptDataSummary  = "data_summary"
	PromptClassify     = "classify"
	PromptAnswer       = "answer"
	PromptSimilarPairs = "similar_pairs"
	PromptShouldMerge  = "should_merge"
)

// TaskPrompt carries everything a node-level prompt can reference
type TaskPrompt struct {
	Title        string
	Description  string
	Datasets     string    // dataset summary
	Context      string    // dependency context from prerequisites and children
	Code         string    // code of the latest failed attempt
	Error        string    // error text of the latest failed attempt
	History      []Failure // every failed attempt so far
	Observations string    // output of a data profiling run
}

// Failure is one failed attempt as shown to the code generator
type Failure struct {
	Attempt  int
	Status   string
	ExitCode int
	Code     string
	Stdout   string
	Stderr   string
}

// NodeBrief is a node as shown to the similarity oracle
type NodeBrief struct {
	ID          int
	Name        string
	Instruction string
}

// PairPrompt asks whether two nodes should merge
type PairPrompt struct {
	A NodeBrief
	B NodeBrief
}

// NodesPrompt asks for likely-equivalent pairs among a node list
type NodesPrompt struct {
	Nodes    []NodeBrief
	MinScore float64
}

const codeEnvironment = `### Environment
- Python 3 with pandas, numpy, matplotlib, seaborn, scipy and scikit-learn.
- The working directory is the output directory. Input files are read-only in the directory named by the DATA_DIR environment variable.
- Save every generated file (plots, tables) under results/, creating it with os.makedirs('results', exist_ok=True).
- Never call plt.show(); save figures with plt.savefig('results/<name>.png') and plt.close().
- Print the results that matter to stdout.

### Reply
Return a strict JSON object:
{"code": "...", "description": "what the code computes", "has_visualization": true|false,
 "visualization_purpose": "what the figure shows, if any", "visualization_analysis": "what to look for in it, if any"}
`

const taskBlock = `### Datasets
{{default "No datasets." .Datasets}}
{{if .Context}}
### Results from prerequisite and subtasks
{{.Context}}
{{end}}
### Task
- Title: {{.Title}}
- Description: {{.Description}}
`

const promptSource = `
{{define "task"}}` + taskBlock + `{{end}}

{{define "generate"}}You are a data analysis code generator. Write Python code that completes the task below.

` + codeEnvironment + `
{{template "task" .}}
Provide the JSON response.
{{end}}

{{define "patch"}}You are a data analysis code generator. The code below failed. Fix the specific problem shown by the error and keep the approach.

` + codeEnvironment + `
{{template "task" .}}
### Previous Code
` + "```python" + `
{{.Code}}
` + "```" + `

### Execution Error
{{.Error}}

Return the corrected code as the strict JSON object described above.
{{end}}

{{define "redesign"}}You are a data analysis code generator. Several attempts at the task below have failed and patching has not helped. Do not patch the previous code. Design a different approach from scratch.

` + codeEnvironment + `
{{template "task" .}}
### Failure History
{{range .History}}
#### Attempt {{.Attempt}} ({{.Status}}, exit code {{.ExitCode}})
` + "```python" + `
{{.Code}}
` + "```" + `
{{if .Stderr}}stderr:
{{truncate .Stderr 1500}}
{{end}}{{if .Stdout}}stdout:
{{truncate .Stdout 500}}
{{end}}{{end}}
Return a redesigned solution as the strict JSON object described above.
{{end}}

{{define "data_summary"}}You are a data analysis assistant. Before the question below is answered, the data has to be profiled. Write Python code that prints only the facts needed to answer it: shapes, column types, value distributions and the specific statistics the question refers to. Do not create files.

` + codeEnvironment + `
{{template "task" .}}
Provide the JSON response.
{{end}}

{{define "classify"}}You are a task classifier. Decide how the data analysis task below should be completed.

- code_required: calculation, statistics, data processing, filtering or plotting.
- data_summary: a descriptive question about the data that needs a quick profile of the data before a written answer.
- text_only: conceptual explanation, terminology or general questions that need no data operations.

{{template "task" .}}
Return strict JSON: {"task_type": "code_required" | "data_summary" | "text_only", "reason": "short reason"}
{{end}}

{{define "answer"}}You are a data analysis assistant. Answer the question below directly, without writing code.

{{template "task" .}}{{if .Observations}}
### Data profile
{{.Observations}}
{{end}}
Answer the question.
{{end}}

{{define "similar_pairs"}}You are a task analysis expert. From the task list below, find pairs of tasks that perform exactly the same operation and were only created twice.

Tasks cannot be merged when they use different methods or algorithms, operate on different data, or their names contain different technical terms. Prefer missing a merge over merging different tasks.

### Tasks
{{range .Nodes}}- [{{.ID}}] {{.Name}}: {{default "(no instruction)" .Instruction}}
{{end}}
Return a strict JSON array, only pairs with similarity >= {{printf "%.2f" .MinScore}}:
[{"id1": 1, "id2": 2, "similarity": 0.95, "reason": "short reason"}]
Return [] when there are none.
{{end}}

{{define "should_merge"}}You are a task analysis expert. Decide whether these two tasks can be merged into one.

[Task 1]
- ID: {{.A.ID}}
- Name: {{.A.Name}}
- Instruction: {{default "(none)" .A.Instruction}}

[Task 2]
- ID: {{.B.ID}}
- Name: {{.B.Name}}
- Instruction: {{default "(none)" .B.Instruction}}

Only tasks performing the same operation with the same method may merge. Different method names mean different tasks.

Return strict JSON: {"can_merge": true|false, "similarity": 0.0-1.0, "reason": "short reason"}
{{end}}
`

var prompts = template.Must(template.New("prompts").Funcs(templateFuncs()).Parse(promptSource))

// Render executes the named prompt with data
func Render(name string, data interface{}) (string, error) {
	tmpl := prompts.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown prompt: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

package analyst

import (
	"fmt"
	"strings"
	"text/template"
)

// QuestionsFile is the well-known upload every run starts by reading.
const QuestionsFile = "questions.txt"

// PromptData is the template input for both system prompts.
type PromptData struct {
	Tools          string
	UploadsDir     string
	OutputsDir     string
	QuestionsFile  string
	CodeTimeoutMax int
	// WorkerHistory tells both prompts whether the worker keeps earlier steps.
	WorkerHistory WorkerHistoryMode
}

const plannerPromptText = `[Planner]
You are a Virtual Data Analyst trained using course materials from a data tools class.
You direct a Worker that can use the following tools:
{{.Tools}}

Reference tool:
- reference_course_content retrieves tips or snippets from course material relevant to a query.
- It is guidance only and does not replace solving the question.

Instructions for steps:
- Be specific. Name every file explicitly{{if ne .WorkerHistory "accumulate"}}; the Worker does not remember earlier steps{{end}}.
- Never ask the Worker to read HTML files directly. Use get_relevant_data with a guessed selector.
- Give one short step at a time.{{if ne .WorkerHistory "accumulate"}} You keep the whole conversation, the Worker does not.{{end}}
- execute_code does not carry state between steps. Put a complex task in a single script.
- Code must print what it computes, otherwise no output comes back.
- Use triple quotes for code instead of writing literal "\n" sequences.

Code execution:
- All code runs as Python.
- Execution time is capped at {{.CodeTimeoutMax}} seconds.
- Example step:
  Step 2:
  - Action: Execute this code '''print(2+3)'''.
  - Tool: execute_code
  - Expected Output: The sum as an integer.

Directories:
- "{{.UploadsDir}}" holds the input files ({{.QuestionsFile}}, .csv, .db, .html and so on).
- "{{.OutputsDir}}" holds generated files.
- Use plain file names like "data.csv". Reading tools take "directory" set to "{{.UploadsDir}}" or "{{.OutputsDir}}".
- Saving tools always write into "{{.OutputsDir}}".

Output rules:
- Prefer plain text answers unless a structured format is requested.
- Only save files when the question asks for one or a later tool needs it.
- Do not invent file names.
- If {{.QuestionsFile}} holds several questions, handle them one at a time and skip any that stall.

Planning:
- Begin by instructing the Worker to read {{.QuestionsFile}} from "{{.UploadsDir}}" using read_text_file.
- Do not put final answers inside step text.

Finish with exactly:
Final Answer: <final explanation or result>
Files to be returned: [<filename1>, <filename2>, ...]

Step format:
Step X:
- Action: what should be done.
- Tool: the tool or library to use.
- Expected Output: what this step should produce.
`

const workerPromptText = `[Worker]
You are a Worker that follows instructions from a Planner one step at a time.
You can use the following tools:
{{.Tools}}

Reference tool:
- reference_course_content accepts a short query and returns course tips. Return them exactly as provided.

Code execution:
- execute_code runs Python in isolation and returns the raw output.
- When told to execute code, pass the Planner's code string as input and return only the result.

Directories:
- Input files are in "{{.UploadsDir}}", output files go to "{{.OutputsDir}}".
- Use plain file names only. Reading tools take "directory" set to "{{.UploadsDir}}" or "{{.OutputsDir}}".

Always act on the Planner's instruction with the appropriate tool and return tool output exactly as it appears.
Never summarize file content, add commentary or invent logic the Planner did not ask for.
{{if eq .WorkerHistory "accumulate"}}Earlier steps and their tool output stay in your history; use them when the Planner refers back.{{else}}Forget everything after each step.{{end}}
`

const kickoffText = "[User] Please ask the Worker to read `{{.QuestionsFile}}` from the \"{{.UploadsDir}}\" directory using read_text_file and send the contents."

var (
	plannerTemplate = template.Must(template.New("planner").Parse(plannerPromptText))
	workerTemplate  = template.Must(template.New("worker").Parse(workerPromptText))
	kickoffTemplate = template.Must(template.New("kickoff").Parse(kickoffText))
)

// Prompts is the rendered text that seeds both histories.
type Prompts struct {
	Planner string
	Worker  string
	Kickoff string
}

// DefaultPromptData fills template input from a catalog.
func DefaultPromptData(catalog *Catalog) PromptData {
	data := PromptData{
		UploadsDir:     "uploads",
		OutputsDir:     "outputs",
		QuestionsFile:  QuestionsFile,
		CodeTimeoutMax: 30,
		WorkerHistory:  WorkerStateless,
	}
	if catalog != nil {
		data.Tools = catalog.Summary()
	}
	return data
}

// RenderPrompts renders the planner and worker system prompts and the kickoff message.
func RenderPrompts(data PromptData) (Prompts, error) {
	var p Prompts
	var err error
	if p.Planner, err = render(plannerTemplate, data); err != nil {
		return Prompts{}, err
	}
	if p.Worker, err = render(workerTemplate, data); err != nil {
		return Prompts{}, err
	}
	if p.Kickoff, err = render(kickoffTemplate, data); err != nil {
		return Prompts{}, err
	}
	return p, nil
}

func render(t *template.Template, data PromptData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return sb.String(), nil
}

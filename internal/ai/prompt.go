package ai

import (
	_ "embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed sql_agent.tmpl
var defaultPromptTemplate string

// PromptData carries the two placeholders of the SQL agent prompt: the
// assembled (pruned or full) schema context and the user's question.
type PromptData struct {
	Schema   string
	Question string
}

// LoadPromptTemplate parses the prompt template at path, or the embedded
// default when path is empty. An explicitly configured template that cannot
// be read is a startup error; the tool is useless without its prompt.
func LoadPromptTemplate(path string) (*template.Template, error) {
	text := defaultPromptTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template %s: %w", path, err)
		}
		text = string(data)
	}

	tmpl, err := template.New("sql_agent").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return tmpl, nil
}

package reporting

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/ethereum-optimism/op-testr/types"
)

const HTMLReportTemplate = "report.html.tmpl"

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// templateFuncs returns the functions available to the report template.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"statusClass": func(status types.TestStatus) string {
			switch {
			case status.IsFailure():
				return "failed"
			case status == types.TestStatusSkip:
				return "skipped"
			case status.IsPassing():
				return "passed"
			}
			return "unknown"
		},
		"statusText": func(status types.TestStatus) string {
			switch status {
			case types.TestStatusSuccess:
				return "pass"
			case types.TestStatusUXSuccess:
				return "unexpected success"
			case types.TestStatusXFail:
				return "expected failure"
			case types.TestStatusUnknown:
				return "unknown"
			}
			return string(status)
		},
		"anchor": func(prefix string, n int) string {
			return fmt.Sprintf("%s-%d", prefix, n)
		},
	}
}

// loadTemplate parses the embedded report template.
func loadTemplate(name string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs()).ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}

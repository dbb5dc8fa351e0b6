package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"HandlerName": HandlerName,
	"Fields": func(e *EventSignature) ([]Field, error) {
		return e.Fields()
	},
}).ParseFS(templateFS, "templates/*.tmpl"))

// TemplateData is passed to every template.
type TemplateData struct {
	Name         string
	ManifestName string
	Datasource   string
	Address      string
	ChainID      string
	StartBlock   uint64
	OutputDir    string
	Events       []*EventSignature
}

// RenderManifest renders project.yaml.
func RenderManifest(data *TemplateData) (string, error) {
	return render("project.yaml.tmpl", data)
}

// RenderMapping renders dist/index.js.
func RenderMapping(data *TemplateData) (string, error) {
	return render("index.js.tmpl", data)
}

// RenderReadme renders README.md.
func RenderReadme(data *TemplateData) (string, error) {
	return render("README.md.tmpl", data)
}

func render(name string, data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

const (
	PromptStandardSystem = "standard_system"
)

type Prompts struct {
	templates *template.Template
}

const PromptExtension = "tmpl"

//go:embed prompts
var PromptsFolder embed.FS

func NewPrompts(input fs.FS) (*Prompts, error) {
	templates, err := template.ParseFS(input, "prompts/*")
	if err != nil {
		return nil, fmt.Errorf("unable to parse prompt templates: %w", err)
	}

	return &Prompts{
		templates: templates,
	}, nil
}

func withPromptExtension(filename string) string {
	return filename + "." + PromptExtension
}

func (p *Prompts) FormatString(templateCode string, context *Context) (string, error) {
	tmpl, err := p.templates.Clone()
	if err != nil {
		return "", err
	}

	tmpl, err = tmpl.Parse(templateCode)
	if err != nil {
		return "", err
	}

	return p.execute(tmpl, context)
}

func (p *Prompts) Format(templateName string, context *Context) (string, error) {
	tmpl := p.templates.Lookup(withPromptExtension(templateName))
	if tmpl == nil {
		return "", errors.New("template not found")
	}

	return p.execute(tmpl, context)
}

func (p *Prompts) execute(template *template.Template, data *Context) (string, error) {
	out := &strings.Builder{}
	if err := template.Execute(out, data); err != nil {
		return "", fmt.Errorf("unable to execute template: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

package cmd

import (
	"path"
	"strings"
	"time"
)

// DefaultPathTemplate places each run under its own prefix
const DefaultPathTemplate = "sf-file-export/{YYYY}/{MM}/{DD}/{run}/{file}"

// PathTemplate provides functionality to generate S3 keys from templates
type PathTemplate struct {
	template string
}

// NewPathTemplate creates a new PathTemplate instance
func NewPathTemplate(template string) *PathTemplate {
	if template == "" {
		template = DefaultPathTemplate
	}
	return &PathTemplate{template: template}
}

// Generate replaces placeholders in the template with actual values
// Supports: {file}, {run}, {YYYY}, {MM}, {DD}, {HH}
func (pt *PathTemplate) Generate(fileName, runID string, timestamp time.Time) string {
	result := pt.template

	result = strings.ReplaceAll(result, "{file}", fileName)
	result = strings.ReplaceAll(result, "{run}", runID)

	// Replace date/time placeholders
	result = strings.ReplaceAll(result, "{YYYY}", timestamp.Format("2006"))
	result = strings.ReplaceAll(result, "{MM}", timestamp.Format("01"))
	result = strings.ReplaceAll(result, "{DD}", timestamp.Format("02"))
	result = strings.ReplaceAll(result, "{HH}", timestamp.Format("15"))

	// Object keys never start with a slash or contain empty segments
	return strings.TrimPrefix(path.Clean("/"+result), "/")
}

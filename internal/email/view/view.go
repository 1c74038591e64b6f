// Package view renders email templates from a file system.
//
// Every email is a single <name>.tmpl file that defines a "subject" and
// a "body" block.
package view

import (
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/template"

	"github.com/willemschots/notekeeper/internal/email"
)

// elements are the blocks every email template defines.
var elements = []email.TemplateElement{email.ElementSubject, email.ElementBody}

// View is a parsed email template.
type View struct {
	name  string
	parts map[email.TemplateElement]*template.Template
}

// Parse parses <name>.tmpl in the root of fsys.
func Parse(fsys fs.FS, name string) (*View, error) {
	// names end up in a file path, only allow a safe subset of runes.
	if name == "" || strings.IndexFunc(name, invalidNameRune) != -1 {
		return nil, fmt.Errorf("invalid view name %q", name)
	}

	tmpl, err := template.New(name).Option("missingkey=error").ParseFS(fsys, name+".tmpl")
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", name, err)
	}

	v := &View{
		name:  name,
		parts: make(map[email.TemplateElement]*template.Template, len(elements)),
	}

	for _, el := range elements {
		part := tmpl.Lookup(string(el))
		if part == nil {
			return nil, fmt.Errorf("view %s: missing %s block", name, el)
		}
		v.parts[el] = part
	}

	return v, nil
}

// Render writes element of the view, executed with data, to w.
func (v *View) Render(w io.Writer, element email.TemplateElement, data any) error {
	part, ok := v.parts[element]
	if !ok {
		return fmt.Errorf("view %s: unknown element %q", v.name, element)
	}

	return part.Execute(w, data)
}

func invalidNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '-' || r == '_':
		return false
	default:
		return true
	}
}

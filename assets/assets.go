// Package assets embeds the files that ship with the binaries.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed emails/*.tmpl
var emailFS embed.FS

// EmailFS contains the email templates, see internal/email/view.
var EmailFS fs.FS

func init() {
	var err error

	EmailFS, err = fs.Sub(emailFS, "emails")
	if err != nil {
		panic("failed to subtree email FS " + err.Error())
	}
}

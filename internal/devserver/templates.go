package devserver

import (
	"embed"
	"html/template"
)

const appName = "Gatehouse"

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// loginView feeds the login page template.
type loginView struct {
	AppName string
	UID     string
	Error   string
}

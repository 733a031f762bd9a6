package useragent

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/success.html
var successHTML string

//go:embed templates/error.html
var errorHTML string

var (
	successPage = template.Must(template.New("success").Funcs(sprig.HtmlFuncMap()).Parse(successHTML))
	errorPage   = template.Must(template.New("error").Funcs(sprig.HtmlFuncMap()).Parse(errorHTML))
)

// setSecurityHeaders applies the headers every callback page is served with.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

func renderPage(w http.ResponseWriter, status int, tmpl *template.Template, data map[string]string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = tmpl.Execute(w, data)
}

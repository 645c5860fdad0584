package server

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	jsonwriter "github.com/dgellow/orgctl/internal/json"
	"github.com/dgellow/orgctl/internal/log"
)

//go:embed templates/login.html
var loginPageTemplateHTML string

//go:embed templates/signup.html
var signupPageTemplateHTML string

//go:embed templates/checking.html
var checkingPageTemplateHTML string

var loginPageTemplate = template.Must(template.New("login").Parse(loginPageTemplateHTML))
var signupPageTemplate = template.Must(template.New("signup").Parse(signupPageTemplateHTML))
var checkingPageTemplate = template.Must(template.New("checking").Parse(checkingPageTemplateHTML))

// LoginPageData represents the data for the sign-in page
type LoginPageData struct {
	Action      string
	Email       string
	From        string
	CSRFToken   string
	Providers   []ProviderLink
	SignUpURL   string
	Message     string
	MessageType string // "success" or "error"
}

// ProviderLink is an external sign-in option.
type ProviderLink struct {
	Name string
	URL  string
}

// SignupPageData represents the data for the registration page
type SignupPageData struct {
	Email             string
	From              string
	CSRFToken         string
	MinPasswordLength int
	SignInURL         string
	Message           string
	MessageType       string
}

// renderPage executes tmpl into a buffer first so a template failure can
// still produce a clean 500.
func renderPage(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.LogErrorWithFields("console", "Failed to render page", map[string]any{
			"template": tmpl.Name(),
			"error":    err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const appName = "Kanban"

// Each notification defines "<name>.subject", "<name>.text" and
// "<name>.html". The HTML body is wrapped in the shared layout.
const textTemplates = `
{{define "verify.subject"}}Confirm your {{app}} account{{end}}
{{define "verify.text"}}Hi {{.UserName}},

Confirm your email address to start using {{app}}:

{{.URL}}

The link expires in 24 hours. If you did not sign up, ignore this message.
{{end}}

{{define "reset.subject"}}Reset your {{app}} password{{end}}
{{define "reset.text"}}Hi {{.UserName}},

Someone asked to reset the password on your {{app}} account. Pick a new one here:

{{.URL}}

The link expires in 1 hour. Your password stays the same until you use it.
{{end}}

{{define "invite.subject"}}{{.InviterName}} shared "{{.BoardTitle}}" with you{{end}}
{{define "invite.text"}}{{.InviterName}} added you to the board "{{.BoardTitle}}" as {{.Role}}.

Open it here: {{.URL}}
{{end}}
`

const htmlTemplates = `
{{define "layout"}}<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #222; max-width: 560px; margin: 0 auto; padding: 24px; line-height: 1.5; }
.brand { font-weight: 600; border-bottom: 3px solid #2f6fde; padding-bottom: 8px; }
.button { display: inline-block; padding: 10px 20px; background: #2f6fde; color: #fff; text-decoration: none; border-radius: 4px; }
.muted { color: #777; font-size: 12px; word-break: break-all; }
</style>
</head>
<body>
<p class="brand">{{app}}</p>
{{block "content" .}}{{end}}
<p class="muted">{{.URL}}</p>
</body>
</html>{{end}}

{{define "verify.html"}}{{template "layout" .}}{{end}}
{{define "verify.content"}}
<p>Hi {{.UserName}},</p>
<p>Confirm your email address to start using {{app}}.</p>
<p><a class="button" href="{{.URL}}">Confirm email</a></p>
<p class="muted">The link expires in 24 hours.</p>
{{end}}

{{define "reset.html"}}{{template "layout" .}}{{end}}
{{define "reset.content"}}
<p>Hi {{.UserName}},</p>
<p>Someone asked to reset the password on your {{app}} account.</p>
<p><a class="button" href="{{.URL}}">Choose a new password</a></p>
<p class="muted">The link expires in 1 hour.</p>
{{end}}

{{define "invite.html"}}{{template "layout" .}}{{end}}
{{define "invite.content"}}
<p>{{.InviterName}} added you to <strong>{{.BoardTitle}}</strong> as {{.Role}}.</p>
<p><a class="button" href="{{.URL}}">Open board</a></p>
{{end}}
`

var (
	textSet = texttemplate.Must(texttemplate.New("email").
		Funcs(texttemplate.FuncMap{"app": func() string { return appName }}).
		Parse(textTemplates))
	htmlSet = htmltemplate.Must(htmltemplate.New("email").
		Funcs(htmltemplate.FuncMap{"app": func() string { return appName }}).
		Parse(htmlTemplates))
)

// render builds the message for one notification. The layout's "content"
// block is bound to the notification's own content template per call.
func render(to, name string, data map[string]string) (Message, error) {
	var subject, text bytes.Buffer
	if err := textSet.ExecuteTemplate(&subject, name+".subject", data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := textSet.ExecuteTemplate(&text, name+".text", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}

	page, err := htmlSet.Clone()
	if err != nil {
		return Message{}, err
	}
	content := page.Lookup(name + ".content")
	if content == nil {
		return Message{}, fmt.Errorf("email template %s has no html content", name)
	}
	if _, err := page.AddParseTree("content", content.Tree); err != nil {
		return Message{}, fmt.Errorf("bind %s content: %w", name, err)
	}
	var html bytes.Buffer
	if err := page.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}

	return Message{
		To:      to,
		Subject: strings.TrimSpace(subject.String()),
		Text:    strings.TrimSpace(text.String()) + "\n",
		HTML:    html.String(),
	}, nil
}

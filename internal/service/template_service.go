// internal/service/template_service.go
package service

import (
	"regexp"
	"strings"

	"github.com/unclebandit/outreach-backend/internal/model"
)

// {{ var }} or {{ var | fallback }}
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*(?:\|\s*([^}]*?))?\s*\}\}`)

// RenderTemplate substitutes placeholders. A variable without value and fallback renders empty.
func RenderTemplate(template string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderRe.FindStringSubmatch(match)
		if v := data[parts[1]]; v != "" {
			return v
		}
		return strings.Trim(parts[2], `"'`)
	})
}

// RenderedEmail is one personalized message.
type RenderedEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Renderer renders a queue row for its campaign.
type Renderer struct{}

// Variables merges the row's personalization with the built-in variables.
func (Renderer) Variables(c *model.Campaign, q *model.QueuedEmail) map[string]string {
	vars := map[string]string{}
	for k, v := range q.Personalization {
		vars[k] = v
	}
	vars["email"] = q.Email
	if q.Name != "" {
		vars["name"] = q.Name
	}
	if q.Company != "" {
		vars["company"] = q.Company
	}
	first, last := splitName(q.Name)
	if vars["first_name"] == "" {
		vars["first_name"] = first
	}
	if vars["last_name"] == "" {
		vars["last_name"] = last
	}
	vars["sender_name"] = c.FromName
	vars["sender_email"] = c.FromEmail
	return vars
}

// Render produces subject and body. The signature follows the body after a blank line.
func (r Renderer) Render(c *model.Campaign, tpl *model.EmailTemplate, signature *model.Signature, q *model.QueuedEmail) RenderedEmail {
	vars := r.Variables(c, q)
	subject := tpl.Subject
	if c.SubjectOverride != "" {
		subject = c.SubjectOverride
	}
	body := RenderTemplate(tpl.Body, vars)
	if signature != nil && strings.TrimSpace(signature.Body) != "" {
		body = strings.TrimRight(body, "\n") + "\n\n" + RenderTemplate(signature.Body, vars)
	}
	return RenderedEmail{
		Subject: RenderTemplate(subject, vars),
		Body:    body,
	}
}

func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/outreach-backend/internal/model"
)

func TestRenderTemplate(t *testing.T) {
	data := map[string]string{"first_name": "Ada", "company": "Engines"}

	tests := []struct {
		in, want string
	}{
		{"Hi {{first_name}}", "Hi Ada"},
		{"Hi {{ first_name }} from {{company}}", "Hi Ada from Engines"},
		{"Hi {{ nickname | there }}", "Hi there"},
		{`Hi {{ nickname | "friend" }}!`, "Hi friend!"},
		{"Hi {{ first_name | there }}", "Hi Ada"},
		{"Hi {{missing}}.", "Hi ."},
		{"No placeholders", "No placeholders"},
		{"{single} braces stay", "{single} braces stay"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenderTemplate(tt.in, data), tt.in)
	}
}

func TestRendererRender(t *testing.T) {
	c := &model.Campaign{FromName: "Grace", FromEmail: "grace@shop.test"}
	tpl := &model.EmailTemplate{Subject: "{{first_name}}, new arrivals", Body: "Hello {{name}} at {{company | your company}}\n"}
	sig := &model.Signature{Body: "-- {{sender_name}} <{{sender_email}}>"}
	q := &model.QueuedEmail{Email: "ada@example.com", Name: "Ada Lovelace", Personalization: model.Personalization{}}

	got := Renderer{}.Render(c, tpl, sig, q)
	assert.Equal(t, "Ada, new arrivals", got.Subject)
	assert.Equal(t, "Hello Ada Lovelace at your company\n\n-- Grace <grace@shop.test>", got.Body)

	c.SubjectOverride = "Did you miss this, {{first_name}}?"
	got = Renderer{}.Render(c, tpl, nil, q)
	assert.Equal(t, "Did you miss this, Ada?", got.Subject)
	assert.Equal(t, "Hello Ada Lovelace at your company\n", got.Body)
}

func TestRendererVariables(t *testing.T) {
	c := &model.Campaign{FromName: "Grace", FromEmail: "g@x.test"}
	q := &model.QueuedEmail{
		Email:           "b@x.test",
		Name:            "Bob Van Dyke",
		Company:         "Acme",
		Personalization: model.Personalization{"first_name": "Bobby", "last_order_date": "2026-01-01"},
	}
	vars := Renderer{}.Variables(c, q)
	assert.Equal(t, "Bobby", vars["first_name"])
	assert.Equal(t, "Van Dyke", vars["last_name"])
	assert.Equal(t, "Acme", vars["company"])
	assert.Equal(t, "b@x.test", vars["email"])
	assert.Equal(t, "2026-01-01", vars["last_order_date"])
	assert.Equal(t, "Grace", vars["sender_name"])
}

// Package service implements campaignctl's three worker loops (queue worker,
// decision engine, reply/bounce detector) plus the template resolver and
// immediate single-contact processor they share.
package service

import (
	"context"
	"strings"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/lollxz/campaignctl/pkg/templating"
)

// TemplatePart distinguishes a template's subject line from its body.
type TemplatePart string

const (
	TemplatePartSubject TemplatePart = "subject"
	TemplatePartBody    TemplatePart = "body"
)

// TemplateKey addresses one entry in the static lookup table of spec.md
// §4.1: (template_type, part, stage, reminder_type).
type TemplateKey struct {
	TemplateType string
	Part         TemplatePart
	Stage        string
	ReminderType string
}

// TemplateSource supplies a raw `{{var}}` template body by key. Storage on
// disk is a Non-goal; the resolver only consumes this collaborator, which
// production wires to whatever loads the operator-authored template table
// and tests/dev satisfy with StaticTemplateSource.
type TemplateSource interface {
	Get(templateType string, part TemplatePart, stage, reminderType string) (string, bool)
}

// StaticTemplateSource is an in-memory TemplateSource keyed by TemplateKey.
type StaticTemplateSource map[TemplateKey]string

func (s StaticTemplateSource) Get(templateType string, part TemplatePart, stage, reminderType string) (string, bool) {
	v, ok := s[TemplateKey{TemplateType: templateType, Part: part, Stage: stage, ReminderType: reminderType}]
	return v, ok
}

// TemplateResolver implements spec.md §4.1's fallback chain on top of the
// §3.1 per-contact override table, grounded on pkg/templating's strict
// Liquid engine and name-parts helper.
type TemplateResolver struct {
	source    TemplateSource
	overrides domain.CustomContactMessageRepository
	engine    *templating.Engine
}

func NewTemplateResolver(source TemplateSource, overrides domain.CustomContactMessageRepository) *TemplateResolver {
	return &TemplateResolver{source: source, overrides: overrides, engine: templating.NewEngine()}
}

// Resolve renders the subject and body for message type mt against contact
// and event, consulting the per-contact override before the static table.
func (r *TemplateResolver) Resolve(ctx context.Context, contact *domain.Contact, event *domain.CampaignEvent, mt domain.MessageType, stage domain.Stage) (subject, body string, err error) {
	templateType, reminderType := classifyMessageType(mt)
	stageStr := string(stage)
	if reminderType == "" && domain.IsReminderToken(stageStr) {
		reminderType = stageStr
	}

	subjectTpl, bodyTpl, err := r.lookupOverride(ctx, contact.ID, string(mt), stageStr, reminderType)
	if err != nil {
		return "", "", err
	}
	if subjectTpl == "" {
		subjectTpl, _ = r.lookup(templateType, TemplatePartSubject, stageStr, reminderType)
	}
	if bodyTpl == "" {
		bodyTpl, _ = r.lookup(templateType, TemplatePartBody, stageStr, reminderType)
	}
	if subjectTpl == "" || bodyTpl == "" {
		return "", "", &domain.ErrTemplateRender{
			ContactID:   contact.ID,
			TemplateKey: templateType + ":" + string(mt),
			Reason:      "no template found for this message type",
		}
	}

	bindings := r.buildBindings(contact, event)

	subject, err = r.engine.Render(contact.ID, templateType+":subject", subjectTpl, bindings)
	if err != nil {
		return "", "", err
	}
	body, err = r.engine.Render(contact.ID, templateType+":body", bodyTpl, bindings)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// RenderCustomStep renders an already-authored subject/body pair (a custom
// flow step's own text) against the same binding set Resolve builds for the
// static table, without any lookup-chain fallback.
func (r *TemplateResolver) RenderCustomStep(contact *domain.Contact, event *domain.CampaignEvent, subjectTpl, bodyTpl string) (subject, body string, err error) {
	bindings := r.buildBindings(contact, event)
	subject, err = r.engine.Render(contact.ID, "custom:subject", subjectTpl, bindings)
	if err != nil {
		return "", "", err
	}
	body, err = r.engine.Render(contact.ID, "custom:body", bodyTpl, bindings)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func (r *TemplateResolver) lookupOverride(ctx context.Context, contactID, messageType, stage, reminderType string) (subject, body string, err error) {
	if r.overrides == nil {
		return "", "", nil
	}
	var reminderTypePtr *string
	if reminderType != "" {
		reminderTypePtr = &reminderType
	}
	override, err := r.overrides.Get(ctx, contactID, messageType, stage, reminderTypePtr)
	if err != nil {
		return "", "", err
	}
	if override == nil {
		return "", "", nil
	}
	return override.Subject, override.Body, nil
}

// lookup implements the four-step fallback chain of spec.md §4.1:
// (type,part,reminder_type,stage) -> (type,part,nil,stage) ->
// (type,part,reminder_type,nil) -> (type,part,nil,nil).
func (r *TemplateResolver) lookup(templateType string, part TemplatePart, stage, reminderType string) (string, bool) {
	attempts := [][2]string{
		{reminderType, stage},
		{"", stage},
		{reminderType, ""},
		{"", ""},
	}
	for _, a := range attempts {
		if v, ok := r.source.Get(templateType, part, a[1], a[0]); ok {
			return v, true
		}
	}
	return "", false
}

// classifyMessageType derives the static table's (template_type,
// reminder_type) pair from a canonical message_type token.
func classifyMessageType(mt domain.MessageType) (templateType, reminderType string) {
	s := string(domain.NormalizeMessageType(string(mt)))

	switch s {
	case string(domain.MessageTypeCampaignMain):
		return "campaign", ""
	case string(domain.MessageTypeReminder1), string(domain.MessageTypeReminder2):
		return "reminder", s
	case string(domain.MessageTypeError):
		return "error", ""
	}

	for _, prefix := range []string{"forms", "payments", "sepa", "rh"} {
		if strings.HasPrefix(s, prefix+"_") {
			rest := strings.TrimPrefix(s, prefix+"_")
			if rest == "initial" {
				return prefix, ""
			}
			return prefix, rest
		}
	}
	if strings.HasPrefix(s, "custom-step-") {
		return "custom", s
	}
	return s, ""
}

// buildBindings assembles the template context: name-parts, event display
// fields, and the contact's link/invoice attributes.
func (r *TemplateResolver) buildBindings(contact *domain.Contact, event *domain.CampaignEvent) map[string]interface{} {
	prefix, lastName := templating.ExtractNameParts(contact.Name)
	if contact.Prefix != nil && strings.TrimSpace(*contact.Prefix) != "" {
		prefix = punctuatePrefix(*contact.Prefix)
	}

	greetingName := lastName
	if prefix != "" {
		greetingName = strings.TrimSpace(prefix + " " + lastName)
	} else if lastName == "" {
		greetingName = strings.TrimSpace(contact.Name)
	}

	b := map[string]interface{}{
		"prefix":         prefix,
		"last_name":      lastName,
		"greeting_name":  greetingName,
		"name":           contact.Name,
		"forms_link":     derefString(contact.FormsLink),
		"payment_link":   derefString(contact.PaymentLink),
		"invoice_number": derefString(contact.InvoiceNumber),
	}
	if event != nil {
		b["org_name"] = event.OrgName
		b["city"] = event.City
		b["venue"] = event.Venue
		b["date2"] = event.Date2
		b["month"] = event.Month
	}
	return b
}

func punctuatePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasSuffix(p, ".") || len(p) > 3 {
		return p
	}
	return p + "."
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package service

import (
	"context"
	"testing"

	"github.com/lollxz/campaignctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOverrideRepo struct {
	getFn func(ctx context.Context, contactID, messageType, stage string, reminderType *string) (*domain.CustomContactMessage, error)
}

func (f *fakeOverrideRepo) Get(ctx context.Context, contactID, messageType, stage string, reminderType *string) (*domain.CustomContactMessage, error) {
	if f.getFn != nil {
		return f.getFn(ctx, contactID, messageType, stage, reminderType)
	}
	return nil, nil
}

func (f *fakeOverrideRepo) Upsert(ctx context.Context, m *domain.CustomContactMessage) error {
	return nil
}

func baseEvent() *domain.CampaignEvent {
	return &domain.CampaignEvent{ID: "e1", OrgName: "Acme Org", City: "London", Venue: "The Hall", Date2: "12th", Month: "March"}
}

func TestClassifyMessageType_FormsInitial(t *testing.T) {
	tt, rt := classifyMessageType(domain.MessageTypeFormsInitial)
	assert.Equal(t, "forms", tt)
	assert.Equal(t, "", rt)
}

func TestClassifyMessageType_PaymentsReminder(t *testing.T) {
	tt, rt := classifyMessageType(domain.MessageTypePaymentsReminder2)
	assert.Equal(t, "payments", tt)
	assert.Equal(t, "reminder2", rt)
}

func TestClassifyMessageType_CampaignMain(t *testing.T) {
	tt, rt := classifyMessageType(domain.MessageTypeCampaignMain)
	assert.Equal(t, "campaign", tt)
	assert.Equal(t, "", rt)
}

func TestResolve_StaticTableFallback(t *testing.T) {
	source := StaticTemplateSource{
		{TemplateType: "forms", Part: TemplatePartSubject, Stage: "", ReminderType: ""}: "Forms reminder",
		{TemplateType: "forms", Part: TemplatePartBody, Stage: "", ReminderType: ""}:    "Hi {{name}}, please complete your forms.",
	}
	r := NewTemplateResolver(source, nil)

	contact := &domain.Contact{ID: "c1", Name: "Ada Lovelace", Stage: domain.StageForms}
	subject, body, err := r.Resolve(context.Background(), contact, baseEvent(), domain.MessageTypeFormsInitial, domain.StageForms)
	require.NoError(t, err)
	assert.Equal(t, "Forms reminder", subject)
	assert.Contains(t, body, "Ada Lovelace")
}

func TestResolve_PerContactOverrideWinsOverStaticTable(t *testing.T) {
	source := StaticTemplateSource{
		{TemplateType: "forms", Part: TemplatePartSubject, Stage: "", ReminderType: ""}: "Static subject",
		{TemplateType: "forms", Part: TemplatePartBody, Stage: "", ReminderType: ""}:    "Static body",
	}
	overrides := &fakeOverrideRepo{
		getFn: func(ctx context.Context, contactID, messageType, stage string, reminderType *string) (*domain.CustomContactMessage, error) {
			return &domain.CustomContactMessage{ContactID: contactID, Subject: "Override subject", Body: "Override body"}, nil
		},
	}
	r := NewTemplateResolver(source, overrides)

	contact := &domain.Contact{ID: "c1", Name: "Ada Lovelace", Stage: domain.StageForms}
	subject, body, err := r.Resolve(context.Background(), contact, baseEvent(), domain.MessageTypeFormsInitial, domain.StageForms)
	require.NoError(t, err)
	assert.Equal(t, "Override subject", subject)
	assert.Equal(t, "Override body", body)
}

func TestResolve_NoTemplateFound_ReturnsErrTemplateRender(t *testing.T) {
	r := NewTemplateResolver(StaticTemplateSource{}, nil)
	contact := &domain.Contact{ID: "c1", Name: "Ada Lovelace", Stage: domain.StageForms}

	_, _, err := r.Resolve(context.Background(), contact, baseEvent(), domain.MessageTypeFormsInitial, domain.StageForms)
	require.Error(t, err)
	var renderErr *domain.ErrTemplateRender
	assert.ErrorAs(t, err, &renderErr)
}

func TestRenderCustomStep_RendersWithoutLookup(t *testing.T) {
	r := NewTemplateResolver(StaticTemplateSource{}, nil)
	contact := &domain.Contact{ID: "c1", Name: "Ada Lovelace"}

	subject, body, err := r.RenderCustomStep(contact, baseEvent(), "Step subject for {{name}}", "Step body mentioning {{org_name}}")
	require.NoError(t, err)
	assert.Contains(t, subject, "Ada Lovelace")
	assert.Contains(t, body, "Acme Org")
}

func TestPunctuatePrefix_ShortTitleGetsPeriod(t *testing.T) {
	assert.Equal(t, "Dr.", punctuatePrefix("Dr"))
}

func TestPunctuatePrefix_AlreadyPunctuated(t *testing.T) {
	assert.Equal(t, "Dr.", punctuatePrefix("Dr."))
}

func TestPunctuatePrefix_LongWordLeftAlone(t *testing.T) {
	assert.Equal(t, "Professor", punctuatePrefix("Professor"))
}

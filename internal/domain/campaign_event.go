package domain

import "context"

// CampaignEvent owns the sender mailbox and the display fields templates
// render from. Contacts inherit their sender via the event they belong to
// (spec.md §3 "Event").
type CampaignEvent struct {
	ID          string `json:"id"`
	SenderEmail string `json:"sender_email"`

	OrgName string `json:"org_name"`
	City    string `json:"city"`
	Venue   string `json:"venue"`
	Date2   string `json:"date2"`
	Month   string `json:"month"`
}

// CampaignEventRepository is the Persistence Store surface for CampaignEvent.
type CampaignEventRepository interface {
	Get(ctx context.Context, id string) (*CampaignEvent, error)
}

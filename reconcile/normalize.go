package reconcile

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

const (
	DefaultFirstName  = "New"
	DefaultLastName   = "Lead"
	SourceManual      = "Manual"
	SourceMissedCall  = "Missed Call"
	DefaultRegionCode = "US"
)

// DefaultSourceLabels are the attribution labels recognized in contact
// custom field values, in their canonical spelling.
func DefaultSourceLabels() []string {
	return []string{
		"Google Ads",
		"Google",
		"Facebook",
		"Instagram",
		"Yelp",
		"Angi",
		"HomeAdvisor",
		"Thumbtack",
		"Nextdoor",
		"Referral",
		"Website",
		"Walk-in",
		SourceMissedCall,
	}
}

// Input is everything known about one remote opportunity.
type Input struct {
	Opportunity crm.Opportunity
	Contact     *crm.Contact
	Notes       []crm.Note
}

type NormalizeOptions struct {
	TenantID      string
	RecaptureTag  string
	DefaultRegion string
	SourceLabels  []string
	Now           time.Time
}

// Normalize projects remote records onto a vault lead. It is pure: the same
// input, config and options always produce the same lead.
func Normalize(in Input, cfg core.FieldMappingConfig, opts NormalizeOptions) core.Lead {
	opp := in.Opportunity
	contact := in.Contact

	first, last := NormalizeName(contact, opp.Name)
	email, phone := contactChannels(opp, contact)
	region := strings.TrimSpace(opts.DefaultRegion)
	if region == "" {
		region = DefaultRegionCode
	}
	labels := opts.SourceLabels
	if len(labels) == 0 {
		labels = DefaultSourceLabels()
	}

	custom := ExtractCustomValues(opp, contact, cfg)
	status := NormalizeStatus(opp.Status, opp.PipelineStageID, cfg)

	lead := core.Lead{
		ID:              strings.TrimSpace(opp.ID),
		TenantID:        strings.TrimSpace(opts.TenantID),
		ContactID:       contactID(opp, contact),
		FirstName:       first,
		LastName:        last,
		Email:           email,
		Phone:           phone,
		PhoneE164:       NormalizePhone(phone, region),
		OpportunityName: strings.TrimSpace(opp.Name),
		MonetaryValue:   monetaryValue(opp.MonetaryValue),
		Status:          status,
		RawStatus:       strings.TrimSpace(opp.Status),
		StageID:         strings.TrimSpace(opp.PipelineStageID),
		Source:          NormalizeSource(opp, contact, opts.RecaptureTag, labels),
		JobType:         custom[core.FieldJobType],
		JobAddress:      custom[core.FieldJobAddress],
		AppointmentAt:   ParseRemoteTime(custom[core.FieldAppointmentDate]),
		ReviewRating:    custom[core.FieldReviewRating],
		CustomValues:    custom,
		NotesCount:      len(in.Notes),
		RemoteCreatedAt: utcPtr(opp.CreatedAt),
		RemoteUpdatedAt: utcPtr(opp.UpdatedAt),
		SyncedAt:        opts.Now.UTC(),
	}
	if status == core.StatusReviewRequested {
		lead.ReviewRequestedAt = utcPtr(opp.UpdatedAt)
	}
	return lead
}

// NormalizeName prefers the contact name, falling back to the New/Lead
// sentinels. When only sentinels are known the opportunity name is split on
// its first space. A first name containing a digit is not a name.
func NormalizeName(contact *crm.Contact, opportunityName string) (string, string) {
	first, last := DefaultFirstName, DefaultLastName
	if contact != nil {
		if value := strings.TrimSpace(contact.FirstName); value != "" {
			first = value
		}
		if value := strings.TrimSpace(contact.LastName); value != "" {
			last = value
		}
	}

	opportunityName = strings.TrimSpace(opportunityName)
	if first == DefaultFirstName && last == DefaultLastName && opportunityName != "" {
		head, tail, _ := strings.Cut(opportunityName, " ")
		first = strings.TrimSpace(head)
		last = strings.TrimSpace(tail)
		if last == "" {
			last = DefaultLastName
		}
	}

	if strings.IndexFunc(first, unicode.IsDigit) >= 0 {
		return DefaultFirstName, DefaultLastName
	}
	return first, last
}

// NormalizeStatus maps remote status and stage onto a canonical status.
// Lost and abandoned win over any stage.
func NormalizeStatus(rawStatus, stageID string, cfg core.FieldMappingConfig) core.CanonicalStatus {
	switch strings.ToLower(strings.TrimSpace(rawStatus)) {
	case "lost", "abandoned":
		return core.StatusLost
	}
	if status, ok := cfg.StatusForStage(stageID); ok {
		return status
	}
	return core.StatusNewLead
}

// NormalizeSource resolves attribution: opportunity source, contact source,
// a recognized label in contact custom values, then Manual. A Manual lead
// carrying the recapture tag came from a missed call.
func NormalizeSource(opp crm.Opportunity, contact *crm.Contact, recaptureTag string, labels []string) string {
	source := strings.TrimSpace(opp.Source)
	if source == "" && contact != nil {
		source = strings.TrimSpace(contact.Source)
	}
	if source == "" && contact != nil {
		source = matchSourceLabel(contact.CustomFields, labels)
	}
	if source == "" {
		source = SourceManual
	}
	if source == SourceManual && hasTag(contactTags(opp, contact), recaptureTag) {
		return SourceMissedCall
	}
	return source
}

// NormalizePhone formats a number as E.164, or returns empty when it cannot
// be parsed as a valid number for the region.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region = strings.ToUpper(strings.TrimSpace(region)); region == "" {
		region = DefaultRegionCode
	}
	number, err := libphonenumber.Parse(raw, region)
	if err != nil || !libphonenumber.IsValidNumber(number) {
		return ""
	}
	return libphonenumber.Format(number, libphonenumber.E164)
}

// ExtractCustomValues reads every mapped key from the collection of the
// model it was recorded under.
func ExtractCustomValues(opp crm.Opportunity, contact *crm.Contact, cfg core.FieldMappingConfig) map[string]string {
	out := map[string]string{}
	for key, ref := range cfg.CustomFieldMap {
		var values []crm.CustomFieldValue
		switch ref.EntityModel {
		case core.EntityContact:
			if contact != nil {
				values = contact.CustomFields
			}
		case core.EntityOpportunity:
			values = opp.CustomFields
		}
		entry, ok := crm.FindCustomField(values, ref.ExternalFieldID)
		if !ok {
			continue
		}
		value, ok := crm.FieldValueString(entry)
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParseRemoteTime accepts the date shapes the CRM emits for date fields,
// including unix milliseconds.
func ParseRemoteTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil && millis > 0 {
		value := time.UnixMilli(millis).UTC()
		return &value
	}
	for _, layout := range remoteTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			value := parsed.UTC()
			return &value
		}
	}
	return nil
}

// Identity normalizes the contact owned part of a lead.
func Identity(contact crm.Contact, opportunityName, region string) core.ContactIdentity {
	first, last := NormalizeName(&contact, opportunityName)
	phone := strings.TrimSpace(contact.Phone)
	return core.ContactIdentity{
		ContactID: strings.TrimSpace(contact.ID),
		FirstName: first,
		LastName:  last,
		Email:     normalizeEmail(contact.Email),
		Phone:     phone,
		PhoneE164: NormalizePhone(phone, region),
	}
}

func contactID(opp crm.Opportunity, contact *crm.Contact) string {
	if contact != nil && strings.TrimSpace(contact.ID) != "" {
		return strings.TrimSpace(contact.ID)
	}
	return opp.ContactIDOrEmbedded()
}

func contactChannels(opp crm.Opportunity, contact *crm.Contact) (string, string) {
	var email, phone string
	if contact != nil {
		email, phone = contact.Email, contact.Phone
	}
	if opp.Contact != nil {
		if strings.TrimSpace(email) == "" {
			email = opp.Contact.Email
		}
		if strings.TrimSpace(phone) == "" {
			phone = opp.Contact.Phone
		}
	}
	return normalizeEmail(email), strings.TrimSpace(phone)
}

func contactTags(opp crm.Opportunity, contact *crm.Contact) []string {
	if contact != nil && len(contact.Tags) > 0 {
		return contact.Tags
	}
	if opp.Contact != nil {
		return opp.Contact.Tags
	}
	return nil
}

func matchSourceLabel(values []crm.CustomFieldValue, labels []string) string {
	for _, entry := range values {
		value, ok := crm.FieldValueString(entry)
		if !ok || value == "" {
			continue
		}
		for _, label := range labels {
			if strings.EqualFold(value, strings.TrimSpace(label)) {
				return strings.TrimSpace(label)
			}
		}
	}
	return ""
}

func hasTag(tags []string, tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	for _, candidate := range tags {
		if strings.EqualFold(strings.TrimSpace(candidate), tag) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func monetaryValue(value *decimal.Decimal) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return *value
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	out := value.UTC()
	return &out
}

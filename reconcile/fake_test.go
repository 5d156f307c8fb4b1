package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
)

const fakeBase = "https://crm.test"

type fakeCRM struct {
	mu        sync.Mutex
	first     string
	pages     map[string]crm.SearchPage
	opps      map[string]crm.Opportunity
	contacts  map[string]crm.Contact
	notes     map[string][]crm.Note
	errs      map[string]error
	pageCalls map[string]int
	oppCalls  map[string]int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		first:     fakeBase + "/opportunities/search?location_id=loc_1&limit=100",
		pages:     map[string]crm.SearchPage{},
		opps:      map[string]crm.Opportunity{},
		contacts:  map[string]crm.Contact{},
		notes:     map[string][]crm.Note{},
		errs:      map[string]error{},
		pageCalls: map[string]int{},
		oppCalls:  map[string]int{},
	}
}

func (f *fakeCRM) FirstSearchPageURL(crm.Auth) string { return f.first }

func (f *fakeCRM) SearchOpportunities(_ context.Context, _ crm.Auth, pageURL string) (crm.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls[pageURL]++
	if err := f.errs["page:"+pageURL]; err != nil {
		return crm.SearchPage{}, err
	}
	page, ok := f.pages[pageURL]
	if !ok {
		return crm.SearchPage{}, core.NewUpstreamFetchError(404, "no such page "+pageURL, nil)
	}
	return page, nil
}

func (f *fakeCRM) GetOpportunity(_ context.Context, _ crm.Auth, id string) (crm.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oppCalls[id]++
	if err := f.errs["opp:"+id]; err != nil {
		return crm.Opportunity{}, err
	}
	opp, ok := f.opps[id]
	if !ok {
		return crm.Opportunity{}, core.NewUpstreamFetchError(404, "crm: remote returned 404", nil)
	}
	return opp, nil
}

func (f *fakeCRM) GetContact(_ context.Context, _ crm.Auth, id string) (crm.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["contact:"+id]; err != nil {
		return crm.Contact{}, err
	}
	contact, ok := f.contacts[id]
	if !ok {
		return crm.Contact{}, core.NewUpstreamFetchError(404, "crm: remote returned 404", nil)
	}
	return contact, nil
}

func (f *fakeCRM) ListNotes(_ context.Context, _ crm.Auth, contactID string) ([]crm.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["notes:"+contactID]; err != nil {
		return nil, err
	}
	return f.notes[contactID], nil
}

// addOpportunity registers a full opportunity plus a contact with notes.
func (f *fakeCRM) addOpportunity(id, name, contactID, stageID string) {
	f.opps[id] = crm.Opportunity{ID: id, Name: name, ContactID: contactID, PipelineStageID: stageID, Status: "open"}
	if contactID != "" {
		if _, ok := f.contacts[contactID]; !ok {
			f.contacts[contactID] = crm.Contact{ID: contactID, Email: contactID + "@example.com"}
		}
		f.notes[contactID] = []crm.Note{{ID: "n_" + contactID}}
	}
}

// paginate spreads ids over pages linked by the given cursors.
func (f *fakeCRM) paginate(cursors []string, ids ...[]string) {
	current := f.first
	for i, pageIDs := range ids {
		page := crm.SearchPage{}
		for _, id := range pageIDs {
			page.Opportunities = append(page.Opportunities, crm.Opportunity{ID: id})
		}
		if i < len(cursors) {
			page.Meta.NextPageURL = cursors[i]
		}
		f.pages[current] = page
		if i < len(cursors) {
			next, err := NormalizePageURL(current, cursors[i])
			if err != nil {
				panic(err)
			}
			current = next
		}
	}
}

type memoryLeads struct {
	mu    sync.Mutex
	leads map[string]core.Lead
}

func newMemoryLeads() *memoryLeads {
	return &memoryLeads{leads: map[string]core.Lead{}}
}

func (s *memoryLeads) Upsert(_ context.Context, lead core.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = lead
	return nil
}

func (s *memoryLeads) Get(_ context.Context, tenantID, leadID string) (core.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[leadID]
	if !ok || lead.TenantID != tenantID {
		return core.Lead{}, core.NewLeadNotFoundError(leadID)
	}
	return lead, nil
}

func (s *memoryLeads) Delete(_ context.Context, tenantID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.leads[leadID]; ok && lead.TenantID == tenantID {
		delete(s.leads, leadID)
	}
	return nil
}

func (s *memoryLeads) ListByContact(_ context.Context, tenantID, contactID string) ([]core.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Lead
	for _, lead := range s.leads {
		if lead.TenantID == tenantID && lead.ContactID == contactID {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryLeads) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]core.Lead, int, error) {
	s.mu.Lock()
	var out []core.Lead
	for _, lead := range s.leads {
		if lead.TenantID == tenantID {
			out = append(out, lead)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset > total {
		offset = total
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *memoryLeads) Count(ctx context.Context, tenantID string) (int, error) {
	_, total, err := s.ListByTenant(ctx, tenantID, 0, 0)
	return total, err
}

func (s *memoryLeads) snapshot() map[string]core.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.Lead, len(s.leads))
	for key, value := range s.leads {
		out[key] = value
	}
	return out
}

type staticConfigs struct {
	cfg core.FieldMappingConfig
	err error
}

func (s staticConfigs) ResolveOrMigrateConfig(context.Context, string) (core.FieldMappingConfig, error) {
	return s.cfg, s.err
}

type staticTenants []core.Tenant

func (s staticTenants) ListConnected(context.Context) ([]core.Tenant, error) {
	return s, nil
}

func testConfig() core.FieldMappingConfig {
	return core.FieldMappingConfig{
		Version:    core.CurrentConfigVersion,
		PipelineID: "p_1",
		StageMap: map[core.CanonicalStatus]string{
			core.StatusNewLead:         "s_new",
			core.StatusContacted:       "s_contacted",
			core.StatusQuoteSent:       "s_quote",
			core.StatusBooked:          "s_booked",
			core.StatusJobComplete:     "s_done",
			core.StatusReviewRequested: "s_review",
			core.StatusLost:            "s_lost",
		},
		CustomFieldMap: map[string]core.FieldRef{
			core.FieldJobType:         {ExternalFieldID: "f_job", EntityModel: core.EntityOpportunity},
			core.FieldJobAddress:      {ExternalFieldID: "f_addr", EntityModel: core.EntityContact},
			core.FieldAppointmentDate: {ExternalFieldID: "f_appt", EntityModel: core.EntityOpportunity},
		},
	}
}

func testTenant(id, location string) core.Tenant {
	loc := location
	return core.Tenant{ID: id, Name: id, LocationID: &loc, RecaptureTag: "recapture"}
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func noSleep(recorded *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, delay time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		if recorded != nil {
			*recorded = append(*recorded, delay)
		}
		return ctx.Err()
	}
}

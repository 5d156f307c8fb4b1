package fieldmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
)

type fakeFieldAPI struct {
	mu         sync.Mutex
	fields     map[core.EntityModel][]crm.CustomField
	pipelines  []crm.Pipeline
	listCalls  map[core.EntityModel]int
	creates    []crm.CreateCustomFieldRequest
	failCreate map[string]error
	nextID     int
}

func newFakeFieldAPI() *fakeFieldAPI {
	return &fakeFieldAPI{
		fields:     map[core.EntityModel][]crm.CustomField{},
		listCalls:  map[core.EntityModel]int{},
		failCreate: map[string]error{},
	}
}

func (f *fakeFieldAPI) seed(model core.EntityModel, id, name string) {
	f.fields[model] = append(f.fields[model], crm.CustomField{ID: id, Name: name, Model: model, DataType: crm.DataTypeText})
}

func (f *fakeFieldAPI) ListCustomFields(_ context.Context, _ crm.Auth, model core.EntityModel) ([]crm.CustomField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[model]++
	return append([]crm.CustomField(nil), f.fields[model]...), nil
}

func (f *fakeFieldAPI) CreateCustomField(_ context.Context, _ crm.Auth, req crm.CreateCustomFieldRequest) (crm.CustomField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[req.Name]; err != nil {
		return crm.CustomField{}, err
	}
	f.creates = append(f.creates, req)
	f.nextID++
	field := crm.CustomField{ID: fmt.Sprintf("new_%d", f.nextID), Name: req.Name, Model: req.Model, DataType: req.DataType}
	f.fields[req.Model] = append(f.fields[req.Model], field)
	return field, nil
}

func (f *fakeFieldAPI) ListPipelines(context.Context, crm.Auth) ([]crm.Pipeline, error) {
	return f.pipelines, nil
}

type fakeConfigStore struct {
	mu      sync.Mutex
	tenants map[string]core.Tenant
	saves   int
	saveErr error
}

func newFakeConfigStore(tenants ...core.Tenant) *fakeConfigStore {
	store := &fakeConfigStore{tenants: map[string]core.Tenant{}}
	for _, tenant := range tenants {
		store.tenants[tenant.ID] = tenant
	}
	return store
}

func (s *fakeConfigStore) Get(_ context.Context, tenantID string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
	}
	return tenant, nil
}

func (s *fakeConfigStore) SaveConfig(_ context.Context, tenantID string, cfg core.FieldMappingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.NewTenantNotFoundError(tenantID)
	}
	stored := cfg.Clone()
	tenant.Config = &stored
	s.tenants[tenantID] = tenant
	s.saves++
	return nil
}

var errBoom = errors.New("boom")

func connectedTenant(id, location string, cfg *core.FieldMappingConfig) core.Tenant {
	loc := location
	return core.Tenant{ID: id, Name: id, LocationID: &loc, Config: cfg}
}

func samplePipelines() []crm.Pipeline {
	return []crm.Pipeline{
		{ID: "p_other", Name: "Other", Stages: []crm.Stage{{ID: "o_1", Name: "Stage"}}},
		{ID: "p_app", Name: "LeadSync Pipeline", Stages: []crm.Stage{
			{ID: "s_new", Name: "New Lead", Position: 0},
			{ID: "s_contacted", Name: "Contacted", Position: 1},
			{ID: "s_quote", Name: "Estimate Sent", Position: 2},
			{ID: "s_booked", Name: "Booked", Position: 3},
			{ID: "s_done", Name: "Job Complete", Position: 4},
			{ID: "s_review", Name: "Review Requested", Position: 5},
			{ID: "s_lost", Name: "Lost", Position: 6},
		}},
	}
}

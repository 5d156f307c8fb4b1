package fieldmap

import (
	"context"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
)

// catalog caches field listings for the duration of one build or migration.
type catalog struct {
	api    FieldAPI
	auth   crm.Auth
	fields map[core.EntityModel][]crm.CustomField
}

func newCatalog(api FieldAPI, auth crm.Auth) *catalog {
	return &catalog{
		api:    api,
		auth:   auth,
		fields: map[core.EntityModel][]crm.CustomField{},
	}
}

func (c *catalog) list(ctx context.Context, model core.EntityModel) ([]crm.CustomField, error) {
	if fields, ok := c.fields[model]; ok {
		return fields, nil
	}
	fields, err := c.api.ListCustomFields(ctx, c.auth, model)
	if err != nil {
		return nil, err
	}
	c.fields[model] = fields
	return fields, nil
}

// find matches the display name exactly, case included.
func (c *catalog) find(ctx context.Context, model core.EntityModel, name string) (crm.CustomField, bool, error) {
	fields, err := c.list(ctx, model)
	if err != nil {
		return crm.CustomField{}, false, err
	}
	for _, field := range fields {
		if field.Name == name {
			return field, true, nil
		}
	}
	return crm.CustomField{}, false, nil
}

// add records a created field. Unloaded namespaces are left alone so the
// next listing stays authoritative.
func (c *catalog) add(field crm.CustomField) {
	fields, ok := c.fields[field.Model]
	if !ok {
		return
	}
	c.fields[field.Model] = append(fields, field)
}

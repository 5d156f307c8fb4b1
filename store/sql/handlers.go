package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// uuidRecord is a row keyed by a text uuid column named id.
type uuidRecord interface {
	*tenantRecord | *webhookDeliveryRecord | *rateLimitStateRecord
	rowID() string
	setRowID(id string)
}

func (r *tenantRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *tenantRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *webhookDeliveryRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *webhookDeliveryRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

func (r *rateLimitStateRecord) rowID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *rateLimitStateRecord) setRowID(id string) {
	if r != nil {
		r.ID = id
	}
}

// uuidHandlers wires go-repository-bun to a uuidRecord. Unparseable ids read
// as uuid.Nil so the repository treats the row as new.
func uuidHandlers[T uuidRecord](newRecord func() T) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			return parseUUID(record.rowID())
		},
		SetID: func(record T, id uuid.UUID) {
			record.setRowID(id.String())
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(record.rowID())
		},
	}
}

func tenantHandlers() repository.ModelHandlers[*tenantRecord] {
	return uuidHandlers(func() *tenantRecord { return &tenantRecord{} })
}

func webhookDeliveryHandlers() repository.ModelHandlers[*webhookDeliveryRecord] {
	return uuidHandlers(func() *webhookDeliveryRecord { return &webhookDeliveryRecord{} })
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return uuidHandlers(func() *rateLimitStateRecord { return &rateLimitStateRecord{} })
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

// Package fieldmap discovers and evolves the per tenant mapping between
// canonical lead fields and the CRM schema.
//
// Pipeline and stage selection are pure functions over listings. Custom
// fields are found by exact display name across both entity namespaces and
// created only when missing, so a build can be repeated safely.
package fieldmap

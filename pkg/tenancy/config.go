// Package tenancy carries the organization (tenant) and acting user through
// every autoload call. Engines take an Actor as an explicit parameter; the
// context helpers and HTTP middleware exist only for the transport layer.
package tenancy

// TenancyMode controls how the HTTP layer resolves the actor.
type TenancyMode string

const (
	// ModeSingle uses DefaultOrganization for every request.
	ModeSingle TenancyMode = "single"
	// ModeHeader requires X-Organization-Id on every request.
	ModeHeader TenancyMode = "header"
)

// DefaultOrganization is the organization used in single-tenant mode.
const DefaultOrganization = "default"

package tenancy

import (
	"fmt"
	"net/http"
)

const (
	// OrganizationHeader carries the organization id.
	OrganizationHeader = "X-Organization-Id"
	// UserHeader carries the acting user id.
	UserHeader = "X-User-Id"
	// anonymousUser is recorded when no user header is sent.
	anonymousUser = "anonymous"
)

// ActorResolver resolves the acting user and organization from an HTTP request.
type ActorResolver interface {
	Resolve(r *http.Request) (Actor, error)
}

// SingleTenantResolver always resolves DefaultOrganization.
type SingleTenantResolver struct{}

// Resolve returns DefaultOrganization and the user from X-User-Id.
func (SingleTenantResolver) Resolve(r *http.Request) (Actor, error) {
	a := Actor{Organization: DefaultOrganization, User: userFromRequest(r)}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}

// HeaderTenantResolver reads the organization from X-Organization-Id.
// The organization is always required in this mode.
type HeaderTenantResolver struct{}

// Resolve extracts the actor from request headers.
func (HeaderTenantResolver) Resolve(r *http.Request) (Actor, error) {
	org := r.Header.Get(OrganizationHeader)
	if org == "" {
		return Actor{}, fmt.Errorf("organization is required in header mode (use the %s header)", OrganizationHeader)
	}
	a := Actor{Organization: org, User: userFromRequest(r)}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}

func userFromRequest(r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	return anonymousUser
}

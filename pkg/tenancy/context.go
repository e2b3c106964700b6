package tenancy

import (
	"context"
	"fmt"
	"regexp"
)

// ctxKey is an unexported type used as the context key for Actor.
type ctxKey struct{}

// maxIdentifierLen bounds organization and user identifiers.
const maxIdentifierLen = 128

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:-]*$`)

// Actor identifies who is acting and on behalf of which organization.
// Organization scopes every record lookup; User is recorded on audit entries.
type Actor struct {
	Organization string
	User         string
}

// Validate checks that both identifiers are present and well formed.
func (a Actor) Validate() error {
	if a.Organization == "" {
		return fmt.Errorf("actor organization is required")
	}
	if a.User == "" {
		return fmt.Errorf("actor user is required")
	}
	if err := validateIdentifier("organization", a.Organization); err != nil {
		return err
	}
	return validateIdentifier("user", a.User)
}

// String renders the actor as user@organization for log lines.
func (a Actor) String() string {
	return a.User + "@" + a.Organization
}

// WithActor returns a new context with the given Actor attached.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFromContext retrieves the Actor from the context.
// Returns the zero value and false if no actor is set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

func validateIdentifier(field, v string) error {
	if len(v) > maxIdentifierLen {
		return fmt.Errorf("%s %q exceeds maximum length of %d characters", field, v, maxIdentifierLen)
	}
	if !identifierRe.MatchString(v) {
		return fmt.Errorf("%s %q is invalid: must start with an alphanumeric character and contain only letters, digits, '.', '_', '@', ':' or '-'", field, v)
	}
	return nil
}

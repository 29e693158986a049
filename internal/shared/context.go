package shared

import (
	"context"
	"fmt"
	"strings"
)

// SystemActorID marks mutations triggered internally (gateway callbacks, jobs).
const SystemActorID = "system"

// Actor identifies who performs a mutation and from where.
type Actor struct {
	ID        string
	IP        string
	UserAgent string
}

// SystemActor is used by internally triggered paths only.
var SystemActor = Actor{ID: SystemActorID}

// Validate rejects an unresolved actor.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: acting user required", ErrUnauthorized)
	}
	return nil
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor resolved at the HTTP boundary.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != ""
}

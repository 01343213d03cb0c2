package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/users"
)

// RoleSource is the read side of Store used for access decisions
type RoleSource interface {
	RolesByUser(ctx context.Context, userID int64) ([]Role, error)
	RoleByID(ctx context.Context, id int64) (*Role, error)
	PermissionsByRole(ctx context.Context, roleID int64) ([]Permission, error)
}

// Checker decides whether a user may perform an action on a resource. It
// keeps no state of its own; every call reads through RoleSource.
type Checker struct {
	roles   RoleSource
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewChecker creates a new permission checker
func NewChecker(roles RoleSource, logger logrus.FieldLogger, metrics *observability.Metrics) *Checker {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Checker{roles: roles, logger: logger, metrics: metrics}
}

// Check returns nil when user may perform action on resource. Otherwise it
// returns auth.ErrUnauthorized for a missing user, auth.ErrForbidden when
// no permission matches, auth.ErrConfiguration for a looping role chain or
// a persistence error.
func (c *Checker) Check(ctx context.Context, user *users.User, resource, action string) error {
	ctx, span := observability.Tracer().Start(ctx, "acl.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("acl.resource", resource),
		attribute.String("acl.action", action),
	)

	err := c.check(ctx, user, resource, action)

	result := decision(err)
	c.metrics.ACLDecisionsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("acl.result", result))

	switch result {
	case "configuration", "error":
		span.RecordError(err)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"resource": resource,
			"action":   action,
		}).Error("Access check failed")
	}
	return err
}

func (c *Checker) check(ctx context.Context, user *users.User, resource, action string) error {
	if user == nil || user.ID == 0 {
		return auth.ErrUnauthorized
	}

	perms, err := c.Permissions(ctx, user.ID)
	if err != nil {
		return err
	}

	for _, p := range perms {
		if p.Matches(resource, action) {
			return nil
		}
	}
	return auth.ErrForbidden
}

// Permissions returns every permission reachable from the roles of a user,
// inherited ones included. A user without roles is auth.ErrForbidden.
func (c *Checker) Permissions(ctx context.Context, userID int64) ([]Permission, error) {
	roles, err := c.roles.RolesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, auth.ErrForbidden
	}

	chains := make([][]Permission, len(roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		g.Go(func() error {
			perms, err := c.chain(gctx, role)
			chains[i] = perms
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Permission
	for _, perms := range chains {
		all = append(all, perms...)
	}
	if len(all) == 0 {
		return nil, auth.ErrForbidden
	}
	return all, nil
}

// chain accumulates the permissions of role and all of its ancestors
func (c *Checker) chain(ctx context.Context, role Role) ([]Permission, error) {
	var perms []Permission
	seen := map[int64]bool{}

	current := &role
	for current != nil {
		if seen[current.ID] {
			return nil, fmt.Errorf("%w: role %d is its own ancestor", auth.ErrConfiguration, current.ID)
		}
		seen[current.ID] = true

		own, err := c.roles.PermissionsByRole(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		perms = append(perms, own...)

		if current.ParentID == nil {
			break
		}
		// a missing parent ends the chain
		current, err = c.roles.RoleByID(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
	}
	return perms, nil
}

func decision(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrConfiguration):
		return "configuration"
	default:
		return "error"
	}
}

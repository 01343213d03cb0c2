// Package rbac provides role-based access control for user accounts.
//
// # Overview
//
// Roles form a forest: every role has at most one parent and inherits all
// permissions of its ancestors. Users are granted roles directly through
// the user_roles table.
//
// A permission is an allow rule on a (resource, action) pair. A nil
// resource matches every resource and a nil action matches every action:
//
//	{Resource: "account.profile", Action: nil}  // any action on profiles
//	{Resource: nil, Action: nil}                // everything
//
// There are no deny rules. A request is allowed when at least one
// permission reachable from the user's roles matches it.
//
// # Checking Access
//
// Checker.Check returns nil when access is granted and an error otherwise:
//
//	checker := rbac.NewChecker(store, logger, metrics)
//	if err := checker.Check(ctx, user, "account.profile", "list"); err != nil {
//		httputil.WriteDomainError(w, err)
//		return
//	}
//
// Error classes:
//
//	auth.ErrUnauthorized   - no user, or a user without an id
//	auth.ErrForbidden      - no role, no permission or no matching permission
//	auth.ErrConfiguration  - a parent chain loops back on itself
//	auth.ErrPersistence    - the store or cache failed
//
// The error never says which permission was missing.
//
// # HTTP Middleware
//
// RequirePermission guards a handler using the user stored in the request
// context by the session middleware:
//
//	router.Handle("/account/profile",
//		rbac.RequirePermission(checker, "account.profile", "list")(handler)).Methods("GET")
//
// # Caching
//
// Store reads for roles by id, roles by user and permissions by role go
// through the shared cache under these keys:
//
//	sql:roles-by-id:<role id>
//	sql:roles-by-user-id:<user id>
//	sql:permissions-by-role-id:<role id>
//
// Every write evicts the affected keys locally and publishes them on the
// invalidation channel so other processes drop their copies.
//
// # Built-in Roles
//
// Seed creates the default hierarchy when it is missing:
//
//	Member             account.profile:*
//	├── Admin          *:*
//	└── User
//
// New accounts receive the User role on confirmation.
package rbac

// Package cli provides the turnstile-cli administration tool.
//
// # Commands
//
// migrate: apply pending schema migrations, or roll back to a version
//
//	turnstile-cli migrate
//	turnstile-cli migrate -rollback 2
//
// seed-roles: create the Member, Admin and User roles if missing
//
//	turnstile-cli seed-roles
//
// roles: list roles with their parents and permissions
//
// user: create or update an account. New accounts are created confirmed.
//
//	turnstile-cli user admin@example.com \
//		-name Admin \
//		-password secret \
//		-add-role Admin \
//		-remove-role User
//
// sessions: list sessions, optionally of one user
//
//	turnstile-cli sessions -user 42
//
// sweep-sessions: delete sessions idle for longer than session.expire_timeout
//
// clear-cache: drop every cached entry
//
// audit: show recent audit events
//
//	turnstile-cli audit -type auth.login_failed -limit 20
//
// # Configuration
//
// Commands read the same configuration as the server (TURNSTILE_* environment
// variables and TURNSTILE_CONFIG_FILE). Connections are opened on first use.
package cli

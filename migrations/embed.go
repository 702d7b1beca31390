// Package migrations embeds the SQL migration files for the remote
// authoritative store so they can be used by the goose programmatic API in
// tests and by the agent's migrate command.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
// Pass this to a goose.Provider instead of relying on a filesystem path at
// runtime.
//
//go:embed *.sql
var FS embed.FS

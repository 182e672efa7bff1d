package migrations

import "embed"

// Postgres holds the ordered ledger migrations
//
//go:embed postgres/*.sql
var Postgres embed.FS

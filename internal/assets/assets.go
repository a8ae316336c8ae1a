package assets

import "embed"

// MigrationsFS holds the backend's sqlite schema migrations.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

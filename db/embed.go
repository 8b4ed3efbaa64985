// Package db holds the SQL migrations, embedded into builds tagged
// embed_migrations.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

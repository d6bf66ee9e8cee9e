// Package sql embeds the Postgres schema applied by database.ApplySchema.
package sql

import (
	"embed"
)

//go:embed schema/*.sql
var Content embed.FS

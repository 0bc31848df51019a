// Package migrations embeds the client state schema applied by goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

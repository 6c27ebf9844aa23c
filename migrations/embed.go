// Package migrations embeds the schema migrations for each supported
// database driver, one directory per driver.
package migrations

import "embed"

// FS holds postgres/*.sql and sqlite/*.sql.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS

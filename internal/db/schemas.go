package db

import "embed"

// sqlSchemas is an embedded file system containing the SQL migration files.
// The migrations are embedded at compile time so the schema bootstrap needs
// no files on disk.
//
//go:embed migrations/*.sql
var sqlSchemas embed.FS

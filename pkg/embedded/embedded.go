// Package embedded provides the SQL schemas compiled into the binary.
package embedded

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

// Schemas contains one <name>_schema.sql file per database
//
//go:embed schemas/*.sql
var Schemas embed.FS

// Schema returns the schema SQL for a database name. ok is false when no schema exists.
func Schema(name string) (sql string, ok bool, err error) {
	content, err := Schemas.ReadFile(fmt.Sprintf("schemas/%s_schema.sql", name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	return string(content), true, nil
}

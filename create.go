package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// VersionLayout formats the timestamp versions written by Create.
const VersionLayout = "20060102150405"

var regexCreateName = regexp.MustCompile(`^[a-z0-9_]+$`)

const createTemplate = `-- @migrate/up
-- Statements may reference the target schema as {{schema}}, for example:
-- CREATE TABLE {{schema}}.%[1]s (id BIGINT PRIMARY KEY);

-- @migrate/down
-- DROP TABLE {{schema}}.%[1]s;
`

// Create writes a new, empty migration file for name into dir, versioned by
// now, and returns its path. The file must be given upward SQL before Load
// will accept it. Create never overwrites an existing file.
func Create(dir, name string, now time.Time) (string, error) {
	const op = "migrate.Create"
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	if !regexCreateName.MatchString(name) {
		return "", E(op, InvalidMigration, fmt.Errorf("expected migration name to contain only letters, "+
			"digits and underscores, got '%s'", name))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", E(op, Other, err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.UTC().Format(VersionLayout), name))
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", E(op, Other, err)
	}

	if _, err := fmt.Fprintf(file, createTemplate, name); err != nil {
		_ = file.Close()
		return "", E(op, Other, err)
	}
	if err := file.Close(); err != nil {
		return "", E(op, Other, err)
	}
	return filename, nil
}

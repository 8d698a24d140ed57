package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"
)

var regexMigrationName = regexp.MustCompile(`^(\d+)_(\w+)(\.sql)?$`)

// Load reads every migration within dir of fsys. A migration is either a
// single file named `<version>_<name>.sql` or a directory named
// `<version>_<name>` containing any number of `.sql` part files, which run in
// lexical order. Other files are ignored.
//
// Load returns an error if a migration is misnamed, contains no parts, or if
// two migrations share a version.
func Load(fsys fs.FS, dir string) ([]*Migration, error) {
	const op = "migrate.Load"
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, E(op, InvalidMigration, err)
	}

	migrations := make([]*Migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && path.Ext(name) != ".sql" {
			continue
		}

		matches := regexMigrationName.FindStringSubmatch(name)
		if matches == nil || (entry.IsDir() && matches[3] != "") {
			return nil, E(op, InvalidMigration, fmt.Errorf("expected migration to be named "+
				"'<version>_<name>.sql' or '<version>_<name>/', got '%s'", name))
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, E(op, InvalidMigration, err)
		}

		full := path.Join(dir, name)
		var parts []*Part
		if entry.IsDir() {
			parts, err = loadParts(fsys, full)
			if err != nil {
				return nil, err
			}
		} else {
			part, err := NewPart(fsys, full)
			if err != nil {
				return nil, err
			}
			parts = []*Part{part}
		}

		m := NewPartsMigration(version, matches[2], parts...)
		m.Path = full
		migrations = append(migrations, m)
	}

	sorted, err := Sort(migrations)
	if err != nil {
		return nil, err
	}
	return sorted, nil
}

func loadParts(fsys fs.FS, dir string) ([]*Part, error) {
	const op = "migrate.Load"
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, E(op, InvalidMigration, err)
	}

	var parts []*Part
	for _, entry := range entries {
		// fs.ReadDir sorts entries by filename
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		part, err := NewPart(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return nil, E(op, InvalidMigration, fmt.Errorf("no migration parts found in '%s'", dir))
	}
	return parts, nil
}

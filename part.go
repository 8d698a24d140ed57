package migrate

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var regexPartDir = regexp.MustCompile(`^--\s?@migrate/(up|down|notx)$`)

// Part is one out of many other pieces that make up a Migration, separating
// migrate up and migrate down SQL as extracted from the file which holds it.
type Part struct {
	Name string
	Path string
	Up   string
	Down string
	// NoTx is set by a `-- @migrate/notx` marker anywhere in the file.
	NoTx bool
}

// NewPart opens the file at name within fsys and parses it with ParsePart.
func NewPart(fsys fs.FS, name string) (*Part, error) {
	const op = "migrate.NewPart"
	file, err := fsys.Open(name)
	if err != nil {
		return nil, E(op, InvalidMigration, err)
	}
	defer file.Close()

	part, err := ParsePart(file, name)
	if err != nil {
		return nil, err
	}
	return part, nil
}

// ParsePart reads SQL from r, separating migrate up and migrate down SQL into
// a new Part. The first non-blank line must be either `-- @migrate/up` or
// `-- @migrate/down`; the tags may occur in any order and more than once. Up
// SQL other than comments is required, down SQL is optional.
func ParsePart(r io.Reader, name string) (*Part, error) {
	const op = "migrate.ParsePart"
	errNoMarker := E(op, InvalidMigration, fmt.Errorf("expected part file '%s' to begin with a comment "+
		"denoting whether the following SQL represents an upward or downward migration "+
		"(for example: '-- @migrate/up' or '-- @migrate/down')", name))

	var up, down []string
	upStatements, downStatements := 0, 0
	noTx := false
	which := -1
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		text := strings.TrimSpace(raw)
		matches := regexPartDir.FindStringSubmatch(text)

		if len(matches) > 1 {
			switch matches[1] {
			case "up":
				which = 0
			case "down":
				which = 1
			case "notx":
				noTx = true
			}
			continue
		}

		if text == "" {
			continue
		}

		switch which {
		case 0:
			up = append(up, raw)
			if !strings.HasPrefix(text, "--") {
				upStatements++
			}
		case 1:
			down = append(down, raw)
			if !strings.HasPrefix(text, "--") {
				downStatements++
			}
		default:
			return nil, errNoMarker
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, E(op, InvalidMigration, err)
	}

	if which == -1 {
		return nil, errNoMarker
	}

	// comments alone do not make a migration
	if upStatements == 0 {
		return nil, E(op, InvalidMigration, fmt.Errorf("file '%s' contains no upward migration data", name))
	}

	if downStatements == 0 {
		down = nil
	}

	return &Part{
		Name: path.Base(name),
		Path: name,
		Up:   strings.Join(up, "\n"),
		Down: strings.Join(down, "\n"),
		NoTx: noTx,
	}, nil
}

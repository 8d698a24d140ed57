package migrate

import (
	"fmt"
	"regexp"
	"strings"
)

// schemaToken is replaced with the quoted schema name in SQL actions.
const schemaToken = "{{schema}}"

// Lower case only: unquoted identifiers fold to lower case in Postgres, so a
// mixed case name would resolve differently depending on quoting.
var regexSchemaName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Schema is a validated schema name. Every table created by a Runner lives
// inside exactly one Schema.
type Schema string

// ParseSchema validates name and returns it as a Schema.
func ParseSchema(name string) (Schema, error) {
	const op = "migrate.ParseSchema"
	if !regexSchemaName.MatchString(name) {
		return "", E(op, InvalidSchema, fmt.Errorf("'%s' must match %s", name, regexSchemaName))
	}
	return Schema(name), nil
}

// String returns the bare schema name.
func (s Schema) String() string {
	return string(s)
}

// Quote returns the schema name as a quoted SQL identifier.
func (s Schema) Quote() string {
	return quoteIdent(string(s))
}

// Qualify returns table qualified by the schema, with both parts quoted.
func (s Schema) Qualify(table string) string {
	return s.Quote() + "." + quoteIdent(table)
}

// Expand replaces every occurrence of {{schema}} in query with the quoted
// schema name.
func (s Schema) Expand(query string) string {
	return strings.ReplaceAll(query, schemaToken, s.Quote())
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

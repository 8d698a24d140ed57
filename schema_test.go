package migrate

import (
	"errors"
	"testing"
)

func TestParseSchema(t *testing.T) {
	for _, name := range []string{"app_data", "_private", "a1"} {
		if s, err := ParseSchema(name); err != nil {
			t.Errorf("ParseSchema: got error with '%s':\n%s", name, err)
		} else if s.String() != name {
			t.Errorf("ParseSchema: got '%s' expected '%s'", s, name)
		}
	}

	for _, name := range []string{"", "App", "1data", "app-data", "app data", `app"data`,
		"a234567890123456789012345678901234567890123456789012345678901234"} {
		if _, err := ParseSchema(name); !errors.Is(err, ErrInvalidSchema) {
			t.Errorf("ParseSchema: expected kind '%s' with '%s', got %v", InvalidSchema, name, err)
		}
	}
}

func TestSchemaQuoting(t *testing.T) {
	s := Schema("app_data")
	if s.Quote() != `"app_data"` {
		t.Errorf("Schema.Quote: got %s", s.Quote())
	}
	if q := s.Qualify("schema_migrations"); q != `"app_data"."schema_migrations"` {
		t.Errorf("Schema.Qualify: got %s", q)
	}
	if q := s.Qualify(`we"ird`); q != `"app_data"."we""ird"` {
		t.Errorf("Schema.Qualify: got %s", q)
	}
	if q := s.Expand("SELECT * FROM {{schema}}.users JOIN {{schema}}.posts"); q != `SELECT * FROM "app_data".users JOIN "app_data".posts` {
		t.Errorf("Schema.Expand: got %s", q)
	}
}

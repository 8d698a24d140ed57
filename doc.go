/*
Package migrate applies database schema migrations inside a dedicated,
non-default schema.

Schemas, Ledgers and Runners

migrate has three key concepts: the schema every table lives in, the ledger
recording which migrations have been applied, and the runner tying the two
together. A run is an explicit two step protocol: the schema is provisioned
and made the session's active namespace, then pending migrations are applied
in ascending version order. The ledger (`schema_migrations`) and the metadata
table (`internal_metadata`) are created inside the schema as well, so nothing
ever lands in the database's default namespace.

Engine specific behaviour lives behind the Dialect interface, implemented by
the postgres and sqlite packages.

Migrations

A Migration is an in-memory value: a positive version, usually a timestamp
such as `20240101000001`, a forward action and an optional reverse action.
Actions are either Go functions or SQL:

	users := migrate.NewMigration(20240101000001, "create_users",
		migrate.SQL(`CREATE TABLE {{schema}}.users (id BIGSERIAL PRIMARY KEY, name TEXT)`),
		migrate.SQL(`DROP TABLE {{schema}}.users`))

The `{{schema}}` token expands to the quoted schema name. On Postgres
unqualified names also resolve to the schema through the search path.

Migration Files

Load reads migrations from any fs.FS. A migration is either a single file
named `<version>_<name>.sql`, or a directory named `<version>_<name>`
containing any number of parts, which run in lexical order. Part files are
plain SQL split into upward and downward sections by comments:

	-- @migrate/up
	CREATE TABLE {{schema}}.example (id INT PRIMARY KEY);

	-- @migrate/down
	DROP TABLE {{schema}}.example;

The first line of the file must be either `-- @migrate/up` or
`-- @migrate/down`, with the space after `--` being optional. These tags may
occur in any order and more than once. A `-- @migrate/notx` line runs the
migration outside of a transaction, for statements such as
`CREATE INDEX CONCURRENTLY`.

Basics

	db, _ := postgres.Open(dsn)
	defer db.Close()

	migrations, err := migrate.Load(os.DirFS("db"), "migrate")
	if err != nil {
		panic(err)
	}

	runner, err := migrate.NewRunner(db, postgres.New(), "app_data")
	if err != nil {
		panic(err)
	}

	applied, err := runner.Run(ctx, migrations)

Run stops at the first failing migration and returns the versions applied
before it alongside an *Error of kind MigrationFailed. Re-running picks up at
the failed migration. Rollback reverts the newest applied migrations through
their reverse actions.
*/
package migrate

// Package dialect defines the driver contracts of the store and the names of
// the supported SQL dialects: PostgreSQL, MySQL and SQLite.
//
// A Driver executes statements and starts transactions; a Tx is bound to one
// connection until it is committed or rolled back. Both implement
// ExecQuerier, so relations and the persistence layer run the same code
// inside and outside a transaction:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	factory := persistence.NewFactory(drv, mapping)
//
// Sub-packages:
//
//   - dialect/sql: SQL statement builders and driver implementation
//   - dialect/sql/schema: DDL generation and schema validation
//   - dialect/sql/sqlgraph: schema mapping, relations and the query compiler
package dialect

package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
)

// Migrate issues a CREATE KEYSPACE followed by a CREATE TABLE/TYPE/INDEX
// per row type, all IF NOT EXISTS so repeated runs (every node boot) are
// no-ops once the schema exists. Every statement is keyspace-qualified
// rather than relying on session.Query's own Keyspace, since session is a
// bootstrap session opened without one.
func Migrate(session *gocql.Session, keyspace string) error {
	statements := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
			WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, keyspace),

		fmt.Sprintf(`CREATE TYPE IF NOT EXISTS %s.file_chunk (
			server_id uuid,
			chunk_id uuid,
			chunk_size bigint,
			chunk_order tinyint
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.microservice_node (
			microservice_type tinyint,
			id uuid,
			address text,
			register_code text,
			renewal_token text,
			access_token text,
			PRIMARY KEY (microservice_type, id)
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.register_code (
			code text PRIMARY KEY,
			consumed boolean
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.directory (
			bucket_id uuid,
			parent text,
			name text,
			id uuid,
			PRIMARY KEY ((bucket_id, parent), name)
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.file (
			bucket_id uuid,
			directory uuid,
			name text,
			id uuid,
			size bigint,
			chunks list<frozen<file_chunk>>,
			PRIMARY KEY ((bucket_id, directory), name)
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bucket (
			app_id uuid,
			id uuid,
			quota bigint,
			space_taken bigint,
			file_count bigint,
			atomic_upload boolean,
			PRIMARY KEY (app_id, id)
		)`, keyspace),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.app_token_nonce (
			app_id uuid,
			issuer_id uuid,
			name text,
			nonce bigint,
			PRIMARY KEY ((app_id, issuer_id), name)
		)`, keyspace),
	}

	for _, stmt := range statements {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("cassandra: migration statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}

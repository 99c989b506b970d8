package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// Config configures a connection to the metadata keyspace. It deliberately
// does not import pkg/config.MetadataConfig, keeping the dependency
// one-directional and this type trivial to construct directly in tests.
type Config struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	ConnectTimeout time.Duration
	Username       string
	Password       string
}

// Store wraps a live gocql session scoped to a single keyspace.
type Store struct {
	session  *gocql.Session
	keyspace string
}

func (c Config) cluster(keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Keyspace = keyspace
	if c.ConnectTimeout > 0 {
		cluster.ConnectTimeout = c.ConnectTimeout
		cluster.Timeout = c.ConnectTimeout
	}
	if consistency, ok := parseConsistency(c.Consistency); ok {
		cluster.Consistency = consistency
	}
	if c.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: c.Username, Password: c.Password}
	}
	return cluster
}

// Open connects to cfg's cluster, runs Migrate against a keyspace-less
// bootstrap session (the keyspace may not exist yet on first run), then
// opens a second, real session scoped to it. gocql's session pool
// multiplexes statements across multiple connections, so a bare `USE
// <keyspace>` issued on one pooled connection would not reliably apply to
// the others; every statement Migrate runs is keyspace-qualified instead.
func Open(cfg Config) (*Store, error) {
	bootstrap, err := cfg.cluster("").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: opening bootstrap session: %w", err)
	}
	defer bootstrap.Close()

	if err := Migrate(bootstrap, cfg.Keyspace); err != nil {
		return nil, fmt.Errorf("cassandra: running migrations: %w", err)
	}

	session, err := cfg.cluster(cfg.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: opening session: %w", err)
	}
	return &Store{session: session, keyspace: cfg.Keyspace}, nil
}

// Close releases the underlying session.
func (s *Store) Close() {
	s.session.Close()
}

func (s *Store) table(name string) string {
	return s.keyspace + "." + name
}

// parseConsistency maps the config's consistency level name onto a gocql
// constant, leaving the cluster's own default in place for an unrecognized
// or empty value rather than failing startup over it.
func parseConsistency(name string) (gocql.Consistency, bool) {
	switch name {
	case "ANY", "any":
		return gocql.Any, true
	case "ONE", "one":
		return gocql.One, true
	case "TWO", "two":
		return gocql.Two, true
	case "THREE", "three":
		return gocql.Three, true
	case "QUORUM", "quorum":
		return gocql.Quorum, true
	case "ALL", "all":
		return gocql.All, true
	case "LOCAL_QUORUM", "local_quorum":
		return gocql.LocalQuorum, true
	case "EACH_QUORUM", "each_quorum":
		return gocql.EachQuorum, true
	case "LOCAL_ONE", "local_one":
		return gocql.LocalOne, true
	default:
		return 0, false
	}
}

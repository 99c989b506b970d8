package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// GetDirectory loads the directory named name directly under parent in
// bucketID. parent is a slash-separated path, "" meaning the bucket root.
func (s *Store) GetDirectory(bucketID uuid.UUID, parent, name string) (*Directory, error) {
	dir := &Directory{BucketID: bucketID, Parent: parent, Name: name}
	var id gocql.UUID
	err := s.session.Query(
		fmt.Sprintf(`SELECT id FROM %s WHERE bucket_id = ? AND parent = ? AND name = ?`, s.table("directory")),
		gocql.UUID(bucketID), parent, name,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("cassandra: loading directory %s/%s: %w", parent, name, err)
	}
	dir.ID = uuid.UUID(id)
	return dir, nil
}

// CreateDirectory inserts dir, minting its ID if the caller left it unset.
func (s *Store) CreateDirectory(dir *Directory) error {
	if dir.ID == uuid.Nil {
		dir.ID = uuid.New()
	}
	err := s.session.Query(
		fmt.Sprintf(`INSERT INTO %s (bucket_id, parent, name, id) VALUES (?, ?, ?, ?)`, s.table("directory")),
		gocql.UUID(dir.BucketID), dir.Parent, dir.Name, gocql.UUID(dir.ID),
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: creating directory %s/%s: %w", dir.Parent, dir.Name, err)
	}
	return nil
}

// DeleteDirectory removes a single directory row. Callers are responsible
// for confirming it is empty first, when that matters.
func (s *Store) DeleteDirectory(bucketID uuid.UUID, parent, name string) error {
	err := s.session.Query(
		fmt.Sprintf(`DELETE FROM %s WHERE bucket_id = ? AND parent = ? AND name = ?`, s.table("directory")),
		gocql.UUID(bucketID), parent, name,
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: deleting directory %s/%s: %w", parent, name, err)
	}
	return nil
}

// ListDirectories returns every directory directly under parentPath in
// bucketID.
func (s *Store) ListDirectories(bucketID uuid.UUID, parentPath string) ([]Directory, error) {
	iter := s.session.Query(
		fmt.Sprintf(`SELECT name, id FROM %s WHERE bucket_id = ? AND parent = ?`, s.table("directory")),
		gocql.UUID(bucketID), parentPath,
	).Iter()

	var out []Directory
	var name string
	var id gocql.UUID
	for iter.Scan(&name, &id) {
		out = append(out, Directory{BucketID: bucketID, Parent: parentPath, Name: name, ID: uuid.UUID(id)})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: listing directories under %q: %w", parentPath, err)
	}
	return out, nil
}

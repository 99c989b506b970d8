package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// MarshalUDT implements gocql.UDTMarshaler directly instead of round
// tripping FileChunk through JSON/CBOR on the way into the frozen
// file_chunk column type.
func (c FileChunk) MarshalUDT(name string, info gocql.TypeInfo) ([]byte, error) {
	switch name {
	case "server_id":
		return gocql.Marshal(info, gocql.UUID(c.ServerID))
	case "chunk_id":
		return gocql.Marshal(info, gocql.UUID(c.ChunkID))
	case "chunk_size":
		return gocql.Marshal(info, c.ChunkSize)
	case "chunk_order":
		return gocql.Marshal(info, c.ChunkOrder)
	default:
		return nil, fmt.Errorf("cassandra: unknown file_chunk field %q", name)
	}
}

// UnmarshalUDT implements gocql.UDTUnmarshaler, the read-side counterpart
// of MarshalUDT.
func (c *FileChunk) UnmarshalUDT(name string, info gocql.TypeInfo, data []byte) error {
	switch name {
	case "server_id":
		var id gocql.UUID
		if err := gocql.Unmarshal(info, data, &id); err != nil {
			return err
		}
		c.ServerID = uuid.UUID(id)
	case "chunk_id":
		var id gocql.UUID
		if err := gocql.Unmarshal(info, data, &id); err != nil {
			return err
		}
		c.ChunkID = uuid.UUID(id)
	case "chunk_size":
		return gocql.Unmarshal(info, data, &c.ChunkSize)
	case "chunk_order":
		return gocql.Unmarshal(info, data, &c.ChunkOrder)
	}
	return nil
}

// GetFile loads the file named name directly under directory in bucketID.
func (s *Store) GetFile(bucketID, directory uuid.UUID, name string) (*File, error) {
	file := &File{BucketID: bucketID, Directory: directory, Name: name}
	var id gocql.UUID
	err := s.session.Query(
		fmt.Sprintf(`SELECT id, size, chunks FROM %s WHERE bucket_id = ? AND directory = ? AND name = ?`, s.table("file")),
		gocql.UUID(bucketID), gocql.UUID(directory), name,
	).Scan(&id, &file.Size, &file.Chunks)
	if err != nil {
		return nil, fmt.Errorf("cassandra: loading file %s: %w", name, err)
	}
	file.ID = uuid.UUID(id)
	return file, nil
}

// CreateFile inserts file, minting its ID if the caller left it unset.
func (s *Store) CreateFile(file *File) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	err := s.session.Query(
		fmt.Sprintf(`INSERT INTO %s (bucket_id, directory, name, id, size, chunks) VALUES (?, ?, ?, ?, ?, ?)`, s.table("file")),
		gocql.UUID(file.BucketID), gocql.UUID(file.Directory), file.Name, gocql.UUID(file.ID), file.Size, file.Chunks,
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: creating file %s: %w", file.Name, err)
	}
	return nil
}

// DeleteFile removes a single file row. The caller is responsible for
// reclaiming its fragments first.
func (s *Store) DeleteFile(bucketID, directory uuid.UUID, name string) error {
	err := s.session.Query(
		fmt.Sprintf(`DELETE FROM %s WHERE bucket_id = ? AND directory = ? AND name = ?`, s.table("file")),
		gocql.UUID(bucketID), gocql.UUID(directory), name,
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: deleting file %s: %w", name, err)
	}
	return nil
}

// RenameFile moves file to (newDirectory, newName): an insert under the
// new key followed by a delete of the old one, since neither the
// directory nor the name is part of a Cassandra table's non-key columns.
func (s *Store) RenameFile(file *File, newDirectory uuid.UUID, newName string) error {
	oldDirectory, oldName := file.Directory, file.Name
	file.Directory, file.Name = newDirectory, newName
	if err := s.CreateFile(&File{
		ID: file.ID, BucketID: file.BucketID, Directory: newDirectory, Name: newName,
		Size: file.Size, Chunks: file.Chunks,
	}); err != nil {
		return fmt.Errorf("cassandra: renaming file to %s: %w", newName, err)
	}
	return s.DeleteFile(file.BucketID, oldDirectory, oldName)
}

// ListFiles returns every file directly under directory in bucketID.
func (s *Store) ListFiles(bucketID, directory uuid.UUID) ([]File, error) {
	iter := s.session.Query(
		fmt.Sprintf(`SELECT name, id, size, chunks FROM %s WHERE bucket_id = ? AND directory = ?`, s.table("file")),
		gocql.UUID(bucketID), gocql.UUID(directory),
	).Iter()

	var out []File
	var name string
	var id gocql.UUID
	var size int64
	var chunks []FileChunk
	for iter.Scan(&name, &id, &size, &chunks) {
		out = append(out, File{BucketID: bucketID, Directory: directory, Name: name, ID: uuid.UUID(id), Size: size, Chunks: chunks})
		chunks = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: listing files under %s: %w", directory, err)
	}
	return out, nil
}

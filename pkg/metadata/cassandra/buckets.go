package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// CreateBucket inserts a new bucket row with its quota and overwrite
// policy, zeroing its usage counters.
func (s *Store) CreateBucket(bucket *Bucket) error {
	err := s.session.Query(
		fmt.Sprintf(`INSERT INTO %s (app_id, id, quota, space_taken, file_count, atomic_upload) VALUES (?, ?, ?, 0, 0, ?)`, s.table("bucket")),
		gocql.UUID(bucket.AppID), gocql.UUID(bucket.ID), bucket.Quota, bucket.AtomicUpload,
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: creating bucket %s: %w", bucket.ID, err)
	}
	return nil
}

// GetBucket loads a single app bucket's quota and usage counters.
func (s *Store) GetBucket(appID, bucketID uuid.UUID) (*Bucket, error) {
	bucket := &Bucket{AppID: appID, ID: bucketID}
	err := s.session.Query(
		fmt.Sprintf(`SELECT quota, space_taken, file_count, atomic_upload FROM %s WHERE app_id = ? AND id = ?`, s.table("bucket")),
		gocql.UUID(appID), gocql.UUID(bucketID),
	).Scan(&bucket.Quota, &bucket.SpaceTaken, &bucket.FileCount, &bucket.AtomicUpload)
	if err != nil {
		return nil, fmt.Errorf("cassandra: loading bucket %s: %w", bucketID, err)
	}
	return bucket, nil
}

// AdjustUsage applies deltaFiles/deltaBytes to a bucket's usage counters.
// A plain bigint column has no counter-style `col = col + ?` update outside
// an actual counter table, so this reads the current values and applies
// them via a lightweight transaction, retrying on a lost race.
func (s *Store) AdjustUsage(appID, bucketID uuid.UUID, deltaFiles, deltaBytes int64) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var spaceTaken, fileCount int64
		err := s.session.Query(
			fmt.Sprintf(`SELECT space_taken, file_count FROM %s WHERE app_id = ? AND id = ?`, s.table("bucket")),
			gocql.UUID(appID), gocql.UUID(bucketID),
		).Scan(&spaceTaken, &fileCount)
		if err != nil {
			return fmt.Errorf("cassandra: loading bucket %s for usage update: %w", bucketID, err)
		}

		newSpaceTaken := spaceTaken + deltaBytes
		newFileCount := fileCount + deltaFiles

		applied, err := s.session.Query(
			fmt.Sprintf(`UPDATE %s SET space_taken = ?, file_count = ? WHERE app_id = ? AND id = ?
				IF space_taken = ? AND file_count = ?`, s.table("bucket")),
			newSpaceTaken, newFileCount, gocql.UUID(appID), gocql.UUID(bucketID), spaceTaken, fileCount,
		).ScanCAS(new(int64), new(int64))
		if err != nil {
			return fmt.Errorf("cassandra: updating usage for bucket %s: %w", bucketID, err)
		}
		if applied {
			return nil
		}
	}
	return fmt.Errorf("cassandra: updating usage for bucket %s: too many concurrent writers", bucketID)
}

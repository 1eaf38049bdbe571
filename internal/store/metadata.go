package store

import (
	"database/sql"
	"fmt"
)

// SetMetadata upserts a key-value pair in the marking_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO marking_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM marking_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func schemeDigestKey(paperID int64) string {
	return fmt.Sprintf("scheme_digest_%d", paperID)
}

// SetSchemeDigest records the content digest of a paper's active mark
// scheme source, used to detect duplicate re-uploads.
func (s *Store) SetSchemeDigest(paperID int64, digest string) error {
	return s.SetMetadata(schemeDigestKey(paperID), digest)
}

// GetSchemeDigest returns the recorded digest for a paper's active mark
// scheme source, or empty string if none was recorded.
func (s *Store) GetSchemeDigest(paperID int64) (string, error) {
	return s.GetMetadata(schemeDigestKey(paperID))
}

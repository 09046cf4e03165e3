package store

import (
	"context"
	"errors"
	"time"

	"agrosync/internal/models"
)

type settingDoc struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PutSetting upserts a key-value pair in the settings collection.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	return s.Put(ctx, models.CollectionSettings, key, settingDoc{Key: key, Value: value})
}

// GetSetting returns the value for key, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var doc settingDoc
	err := s.Get(ctx, models.CollectionSettings, key, &doc)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Value, nil
}

// LastSync returns the recorded end of the last completed drain pass,
// or the zero time when no pass has completed yet.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	raw, err := s.GetSetting(ctx, models.SettingLastSync)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// SetLastSync records the end of a completed drain pass.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.PutSetting(ctx, models.SettingLastSync, t.Format(time.RFC3339Nano))
}

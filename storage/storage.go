// Package storage persists accounts and room presets as whole JSON documents,
// either in a local directory or in a Cloud Storage bucket.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"shift-booker/pkg/booker"
)

// Document names, kept compatible with files written by earlier versions.
const (
	AccountsKey = "accounts.json"
	PresetsKey  = "room_presets.json"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("storage: object doesn't exist")

// IsNotFound checks if an error indicates a missing document. Retry errors
// flatten their causes into the message, so the text is checked as well.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, storage.ErrObjectNotExist) ||
		strings.Contains(err.Error(), ErrNotFound.Error())
}

// Store reads and writes documents. When localPath is set the bucket is not used.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Location describes where documents live, for log and status output.
func (s *Store) Location() string {
	if s.localPath != "" {
		return s.localPath
	}
	return "gs://" + s.bucket
}

// LoadAccounts loads the account list. If the document is missing or cannot
// be decoded and legacy holds a username and secret, a single shared-mode
// account is synthesised from it.
func (s *Store) LoadAccounts(ctx context.Context, legacy booker.Credentials) ([]booker.Account, error) {
	var accounts []booker.Account
	err := s.loadJSON(ctx, AccountsKey, &accounts)
	if err == nil {
		s.logger.Info("Accounts loaded", "location", s.Location(), "count", len(accounts))
		return accounts, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	s.logger.Warn("Account list unavailable, trying legacy credentials", "error", err)
	user := strings.TrimSpace(legacy.Username)
	secret := strings.TrimSpace(legacy.Secret)
	if user == "" || secret == "" {
		return nil, nil
	}
	return []booker.Account{{
		Username:  user,
		Secret:    secret,
		UseShared: true,
	}}, nil
}

// SaveAccounts replaces the stored account list.
func (s *Store) SaveAccounts(ctx context.Context, accounts []booker.Account) error {
	if accounts == nil {
		accounts = []booker.Account{}
	}
	return s.saveJSON(ctx, AccountsKey, accounts)
}

// LoadPresets loads every preset. A missing document yields an empty map.
func (s *Store) LoadPresets(ctx context.Context) (map[string]booker.Preset, error) {
	presets := make(map[string]booker.Preset)
	if err := s.loadJSON(ctx, PresetsKey, &presets); err != nil {
		if IsNotFound(err) {
			return presets, nil
		}
		return nil, err
	}
	if presets == nil {
		presets = make(map[string]booker.Preset)
	}
	return presets, nil
}

// SavePresets replaces the stored presets.
func (s *Store) SavePresets(ctx context.Context, presets map[string]booker.Preset) error {
	if presets == nil {
		presets = map[string]booker.Preset{}
	}
	return s.saveJSON(ctx, PresetsKey, presets)
}

// Keys lists the documents present in the store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{MatchGlob: "*.json"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *Store) loadJSON(ctx context.Context, key string, v any) error {
	data, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *Store) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.write(ctx, key, data)
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", ErrNotFound))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if s.localPath != "" {
		if err := os.MkdirAll(s.localPath, 0o700); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		path := filepath.Join(s.localPath, key)
		tmp := path + ".tmp"
		// Account documents hold passwords.
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("replace %s: %w", key, err)
		}
		s.logger.Info("Document saved to local storage", "path", path, "bytes", len(data))
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Document saved", "bucket", s.bucket, "key", key, "bytes", len(data))
	return nil
}

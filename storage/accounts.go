package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"shift-booker/pkg/booker"
)

// ErrNoSuchAccount is returned for an index outside the account list.
var ErrNoSuchAccount = errors.New("no such account")

// ConfigError lists why a custom account configuration was rejected.
type ConfigError struct {
	Account  string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Account, strings.Join(e.Problems, "; "))
}

// AccountBook is the in-memory account list. Every change rewrites the whole
// stored document.
type AccountBook struct {
	store  *Store
	logger *slog.Logger

	mu       sync.Mutex
	accounts []booker.Account
}

// OpenAccountBook loads the account list from store.
func OpenAccountBook(ctx context.Context, store *Store, legacy booker.Credentials, logger *slog.Logger) (*AccountBook, error) {
	accounts, err := store.LoadAccounts(ctx, legacy)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return &AccountBook{store: store, logger: logger, accounts: accounts}, nil
}

// List returns a copy of the accounts. Target lists are not shared with the book.
func (b *AccountBook) List() []booker.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]booker.Account, len(b.accounts))
	for i, a := range b.accounts {
		a.Targets = a.Targets.Clone()
		out[i] = a
	}
	return out
}

// Add appends an account with no custom configuration.
func (b *AccountBook) Add(ctx context.Context, username, secret string, useShared bool) (booker.Account, error) {
	username, secret = strings.TrimSpace(username), strings.TrimSpace(secret)
	if username == "" || secret == "" {
		return booker.Account{}, errors.New("username and password are required")
	}
	a := booker.Account{Username: username, Secret: secret, UseShared: useShared}

	return a, b.mutate(ctx, func(accounts []booker.Account) ([]booker.Account, error) {
		return append(accounts, a), nil
	})
}

// Remove deletes the account at index.
func (b *AccountBook) Remove(ctx context.Context, index int) (booker.Account, error) {
	var removed booker.Account
	err := b.mutate(ctx, func(accounts []booker.Account) ([]booker.Account, error) {
		if index < 0 || index >= len(accounts) {
			return nil, ErrNoSuchAccount
		}
		removed = accounts[index]
		return append(accounts[:index:index], accounts[index+1:]...), nil
	})
	return removed, err
}

// SetShared switches the account at index between the shared inputs and its
// own configuration.
func (b *AccountBook) SetShared(ctx context.Context, index int, useShared bool) error {
	return b.mutate(ctx, func(accounts []booker.Account) ([]booker.Account, error) {
		if index < 0 || index >= len(accounts) {
			return nil, ErrNoSuchAccount
		}
		accounts[index].UseShared = useShared
		return accounts, nil
	})
}

// Configure gives the account at index its own room, cooldown and targets
// and switches it out of shared mode.
func (b *AccountBook) Configure(ctx context.Context, index int, room string, cooldown booker.Seconds, targets booker.TargetSet) error {
	return b.mutate(ctx, func(accounts []booker.Account) ([]booker.Account, error) {
		if index < 0 || index >= len(accounts) {
			return nil, ErrNoSuchAccount
		}
		if problems := booker.CheckRunInputs(room, cooldown, targets); len(problems) > 0 {
			return nil, &ConfigError{Account: accounts[index].DisplayName(index), Problems: problems}
		}
		a := &accounts[index]
		a.Room = strings.TrimSpace(room)
		a.Cooldown = booker.Seconds(strings.TrimSpace(string(cooldown)))
		a.Targets = targets.Clone()
		a.UseShared = false
		return accounts, nil
	})
}

// mutate applies fn to a copy of the list and commits it only once the
// store accepted the new document.
func (b *AccountBook) mutate(ctx context.Context, fn func([]booker.Account) ([]booker.Account, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := fn(append([]booker.Account(nil), b.accounts...))
	if err != nil {
		return err
	}
	if err := b.store.SaveAccounts(ctx, next); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	b.accounts = next
	b.logger.Debug("Account list updated", "count", len(next))
	return nil
}

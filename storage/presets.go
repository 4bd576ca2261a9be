package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shift-booker/pkg/booker"
)

// ErrNoSuchPreset is returned when a named preset does not exist.
var ErrNoSuchPreset = errors.New("no such preset")

// SavePreset stores p under name, replacing any preset of that name. When
// previous is non-empty and differs from name, that preset is dropped, which
// renames it. A preset may have no targets.
func (s *Store) SavePreset(ctx context.Context, previous, name string, p booker.Preset) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("preset name is required")
	}
	p.Room = strings.TrimSpace(p.Room)
	if p.Room == "" || strings.TrimSpace(string(p.Cooldown)) == "" {
		return errors.New("room number and cooldown are required")
	}
	if _, err := p.Cooldown.Duration(); err != nil {
		return fmt.Errorf("preset %s: %w", name, err)
	}

	presets, err := s.LoadPresets(ctx)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	if previous != "" && previous != name {
		if _, ok := presets[previous]; !ok {
			return fmt.Errorf("rename %q: %w", previous, ErrNoSuchPreset)
		}
		delete(presets, previous)
	}
	p.Targets = p.Targets.Clone()
	if p.Targets == nil {
		p.Targets = booker.TargetSet{}
	}
	presets[name] = p

	if err := s.SavePresets(ctx, presets); err != nil {
		return fmt.Errorf("save presets: %w", err)
	}
	s.logger.Info("Preset saved", "name", name, "room", p.Room, "targets", p.Targets.Len())
	return nil
}

// Preset returns the preset called name.
func (s *Store) Preset(ctx context.Context, name string) (booker.Preset, error) {
	presets, err := s.LoadPresets(ctx)
	if err != nil {
		return booker.Preset{}, fmt.Errorf("load presets: %w", err)
	}
	p, ok := presets[name]
	if !ok {
		return booker.Preset{}, fmt.Errorf("%q: %w", name, ErrNoSuchPreset)
	}
	return p, nil
}

// DeletePreset removes the preset called name.
func (s *Store) DeletePreset(ctx context.Context, name string) error {
	presets, err := s.LoadPresets(ctx)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	if _, ok := presets[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNoSuchPreset)
	}
	delete(presets, name)
	if err := s.SavePresets(ctx, presets); err != nil {
		return fmt.Errorf("save presets: %w", err)
	}
	s.logger.Info("Preset deleted", "name", name)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shift-booker/pkg/booker"
	"shift-booker/storage"
)

var errUsage = errors.New("usage")

// runInputs are the room, cooldown and shift flags shared by run, serve,
// accounts configure and presets save.
type runInputs struct {
	room     string
	cooldown string
	shifts   []string
	preset   string
}

func (in *runInputs) register(cmd *cobra.Command, withPreset bool) {
	cmd.Flags().StringVar(&in.room, "room", "", "room number")
	cmd.Flags().StringVar(&in.cooldown, "cooldown", "", "seconds to wait after a claim")
	cmd.Flags().StringArrayVar(&in.shifts, "shift", nil, `shift to claim as "DATE|NAME", highest priority first (repeatable)`)
	if withPreset {
		cmd.Flags().StringVar(&in.preset, "preset", "", "load room, cooldown and shifts from a saved preset")
	}
}

func (in *runInputs) targets() (booker.TargetSet, error) {
	var set booker.TargetSet
	for _, raw := range in.shifts {
		t, err := parseShift(raw)
		if err != nil {
			return nil, err
		}
		set.Add(t.Date, t.Label)
	}
	return set, nil
}

// shared resolves the inputs, from the named preset when one was given.
// Explicit flags override the preset's values.
func (in *runInputs) shared(ctx context.Context, store *storage.Store) (booker.SharedInputs, error) {
	targets, err := in.targets()
	if err != nil {
		return booker.SharedInputs{}, err
	}
	out := booker.SharedInputs{Room: in.room, Cooldown: booker.Seconds(in.cooldown), Targets: targets}
	if in.preset == "" {
		return out, nil
	}

	p, err := store.Preset(ctx, in.preset)
	if err != nil {
		return booker.SharedInputs{}, err
	}
	if out.Room == "" {
		out.Room = p.Room
	}
	if out.Cooldown == "" {
		out.Cooldown = p.Cooldown
	}
	if out.Targets.Len() == 0 {
		out.Targets = p.Targets
	}
	return out, nil
}

// parseShift splits "DATE|NAME". Both halves are required and kept verbatim
// apart from surrounding spaces.
func parseShift(raw string) (booker.SlotTarget, error) {
	date, label, ok := strings.Cut(raw, "|")
	date, label = strings.TrimSpace(date), strings.TrimSpace(label)
	if !ok || date == "" || label == "" {
		return booker.SlotTarget{}, fmt.Errorf("%w: shift %q must look like DATE|NAME", errUsage, raw)
	}
	return booker.SlotTarget{Date: date, Label: label}, nil
}

// accountIndex converts the 1-based position shown by "accounts list".
func accountIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: account %q must be a position from 'accounts list'", errUsage, arg)
	}
	return n - 1, nil
}

package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"shift-booker/pkg/booker"
)

var (
	presetFlags  runInputs
	presetRename string

	editAdd    []string
	editRemove int
	editUp     int
	editDown   int
	editClear  bool
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage named room presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		presets, err := store.LoadPresets(cmd.Context())
		if err != nil {
			return err
		}
		if len(presets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No presets saved.")
			return nil
		}
		for _, name := range slices.Sorted(maps.Keys(presets)) {
			p := presets[name]
			fmt.Fprintf(cmd.OutOrStdout(), "%s\troom=%s cooldown=%s shifts=%d\n", name, p.Room, p.Cooldown, p.Targets.Len())
		}
		return nil
	},
}

var presetsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a preset's shifts in priority order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		p, err := store.Preset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		writePreset(cmd, args[0], p)
		return nil
	},
}

var presetsSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Save --room, --cooldown and --shift under NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := presetFlags.targets()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		p := booker.Preset{Room: presetFlags.room, Cooldown: booker.Seconds(presetFlags.cooldown), Targets: targets}
		if err := store.SavePreset(cmd.Context(), presetRename, args[0], p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Preset '%s' saved.\n", args[0])
		return nil
	},
}

var presetsDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.DeletePreset(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Preset '%s' deleted.\n", args[0])
		return nil
	},
}

var presetsEditCmd = &cobra.Command{
	Use:   "edit NAME",
	Short: "Add, remove, reorder or clear a preset's shifts",
	Long: `Edit the shift list of a preset. Positions are 1-based as printed by
'presets show'. Operations apply in this order: --clear, --remove, --up,
--down, --add.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		p, err := store.Preset(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := editTargets(&p.Targets); err != nil {
			return err
		}
		if err := store.SavePreset(cmd.Context(), "", args[0], p); err != nil {
			return err
		}
		writePreset(cmd, args[0], p)
		return nil
	},
}

func init() {
	presetFlags.register(presetsSaveCmd, false)
	presetsSaveCmd.Flags().StringVar(&presetRename, "rename-from", "", "existing preset to rename to NAME")

	presetsEditCmd.Flags().StringArrayVar(&editAdd, "add", nil, `append a shift "DATE|NAME" (repeatable)`)
	presetsEditCmd.Flags().IntVar(&editRemove, "remove", 0, "remove the shift at this position")
	presetsEditCmd.Flags().IntVar(&editUp, "up", 0, "move the shift at this position up")
	presetsEditCmd.Flags().IntVar(&editDown, "down", 0, "move the shift at this position down")
	presetsEditCmd.Flags().BoolVar(&editClear, "clear", false, "remove every shift")

	presetsCmd.AddCommand(presetsListCmd, presetsShowCmd, presetsSaveCmd, presetsDeleteCmd, presetsEditCmd)
}

// editTargets applies the edit flags to set.
func editTargets(set *booker.TargetSet) error {
	if editClear {
		set.Clear()
	}
	if editRemove > 0 {
		if _, ok := set.RemoveAt(editRemove - 1); !ok {
			return fmt.Errorf("%w: no shift at position %d", errUsage, editRemove)
		}
	}
	if editUp > 0 && !set.Move(editUp-1, booker.Up) {
		return fmt.Errorf("%w: cannot move shift %d up", errUsage, editUp)
	}
	if editDown > 0 && !set.Move(editDown-1, booker.Down) {
		return fmt.Errorf("%w: cannot move shift %d down", errUsage, editDown)
	}
	for _, raw := range editAdd {
		t, err := parseShift(raw)
		if err != nil {
			return err
		}
		set.Add(t.Date, t.Label)
	}
	return nil
}

func writePreset(cmd *cobra.Command, name string, p booker.Preset) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: room %s, cooldown %ss\n", name, p.Room, p.Cooldown)
	if p.Targets.Len() == 0 {
		fmt.Fprintln(w, "  (no shifts)")
	}
	for i, t := range p.Targets {
		fmt.Fprintf(w, "  %d. %s\n", i+1, t)
	}
}

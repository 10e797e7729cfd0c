package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/book-expert/pdf-to-image-service/internal/settings"
)

func newSettingsCommand(flgs *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the remembered preferences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storeFromFlags(flgs)
			if err != nil {
				return err
			}

			return printPreferences(cmd.OutOrStdout(), store)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store one preference (" + strings.Join(settings.Keys(), ", ") + ")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromFlags(flgs)
			if err != nil {
				return err
			}

			key := strings.ToUpper(args[0])

			err = settings.Set(store, key, args[1])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", key, store.Path())

			return nil
		},
	})

	return cmd
}

func storeFromFlags(flgs *flags) (*settings.EnvFileStore, error) {
	cfg, err := safeLoadConfig(flgs.configPath)
	if err != nil {
		return nil, err
	}

	return openStore(flgs, &cfg)
}

func printPreferences(out io.Writer, store *settings.EnvFileStore) error {
	prefs := settings.LoadPreferences(store)

	_, err := fmt.Fprintf(
		out,
		"%s=%s\n%s=%d\n%s=%s\n%s=%d\n",
		settings.KeyOutputDirectory, prefs.OutputDirectory,
		settings.KeyResolution, prefs.Resolution,
		settings.KeyImageFormat, prefs.Format,
		settings.KeyJPEGQuality, prefs.Quality,
	)
	if err != nil {
		return fmt.Errorf("print preferences: %w", err)
	}

	return nil
}

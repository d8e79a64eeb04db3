package control

import (
	"fmt"
	"os"
	"path/filepath"

	"speechbridge/internal/config"

	"github.com/spf13/cobra"
)

// NewSetupCmd downloads the configured model if missing.
func NewSetupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download the configured whisper model if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			modelPath := os.ExpandEnv(cfg.ASR.ModelPath)
			if _, err := os.Stat(modelPath); err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "model already present at", modelPath)
				return nil
			}
			url, ok := modelRegistry[filepath.Base(modelPath)]
			if !ok {
				return fmt.Errorf("%s is not a known model; download it manually or pick one from models list", modelPath)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloading model to %s\n", modelPath)
			if err := downloadFile(url, modelPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "model download complete")
			return nil
		},
	}
}

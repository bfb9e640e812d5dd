package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/meetwatch/internal/config"
)

// ConfigValidation holds the outcome of config validate.
type ConfigValidation struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file without starting anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runConfigValidate(rootOpts.formatter(cmd), path)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			masked := *cfg
			masked.Telegram.Token = mask(masked.Telegram.Token)
			masked.Google.ClientSecret = mask(masked.Google.ClientSecret)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeConfig, "encode config", err)
			}
			return f.Result(masked, strings.TrimSuffix(string(data), "\n"))
		},
	})

	return cmd
}

func runConfigValidate(f *OutputFormatter, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path), nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to read config", err)
	}

	res := ConfigValidation{Path: path, Valid: true}
	cfg, err := config.Parse(data)
	if err == nil {
		cfg.ApplyEnv(os.Getenv)
		err = cfg.Validate()
	}
	if err != nil {
		res.Valid = false
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			res.Problems = verr.Problems
		} else {
			res.Problems = []string{err.Error()}
		}
	}

	if res.Valid {
		return f.Result(res, "✓ "+path+" is valid")
	}

	if f.Format == "json" {
		_ = f.Error(ErrCodeConfig, fmt.Sprintf("%d problem(s)", len(res.Problems)), res)
	} else {
		fmt.Fprintf(f.Writer, "✗ %s is invalid\n", path)
		for _, p := range res.Problems {
			fmt.Fprintf(f.Writer, "  %s\n", p)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("config validation failed with %d problem(s)", len(res.Problems)))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/shortsai/backend/internal"
	"github.com/shortsai/backend/internal/config"
	"github.com/shortsai/backend/internal/crypto"
	"github.com/shortsai/backend/internal/log"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

// generateDefaultConfig writes a starter config to path and returns a fresh
// value for the SESSION_SECRET variable it references.
func generateDefaultConfig(path string) (string, error) {
	sessionSecret, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}

	defaultConfig := map[string]any{
		"version":        config.VersionPrefix,
		"addr":           config.DefaultAddr,
		"frontendOrigin": "https://shortsai.ru",
		"backendBaseURL": "https://api.shortsai.ru",
		"production":     true,
		"session": map[string]any{
			"cookieName": config.DefaultCookieName,
			"secret":     map[string]string{"$env": "SESSION_SECRET"},
		},
		"oauthState": map[string]any{
			"replayProtection": true,
		},
		"firebase": map[string]any{
			"projectId":             "shortsai-prod",
			"identityLookupTimeout": config.DefaultIdentityLookupTimeout.String(),
		},
		"googleDrive": map[string]any{
			"clientId":     map[string]string{"$env": "GOOGLE_DRIVE_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "GOOGLE_DRIVE_CLIENT_SECRET"},
			"redirectPath": config.DefaultRedirectPath,
		},
		"storage": map[string]any{
			"kind":            string(config.StorageMemory),
			"cleanupInterval": config.DefaultCleanupInterval.String(),
		},
		"rateLimit": map[string]any{
			"loginRequestsPerMinute": config.DefaultLoginRequestsPerMinute,
			"trustedProxyHops":       config.DefaultTrustedProxyHops,
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return sessionSecret, nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log.LogInfoWithFields("main", "Starting shortsai backend", map[string]any{
				"version": BuildVersion,
				"config":  configPath,
			})

			ctx := cmd.Context()
			app, err := internal.NewApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}
			return app.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without resolving secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-init <path>",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionSecret, err := generateDefaultConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Generated default config at: %s\n", args[0])
			fmt.Printf("\nSet the session secret before serving:\n  export SESSION_SECRET=%s\n", sessionSecret)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s (%s, %s/%s)\n", BuildVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "shortsai",
		Short:         "Session and Google Drive OAuth backend for ShortsAI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			return log.SetLogLevel(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		validateCmd(),
		configInitCmd(),
		versionCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.LogError("%v", err)
		os.Exit(1)
	}
}

// ABOUTME: Interactive config file creation for `familiar init`
// ABOUTME: Prompts for the Matrix account and bot basics, then writes YAML

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-familiar/internal/builtins"
	"github.com/2389/coven-familiar/internal/config"
)

func runInit() error {
	return initConfig(os.Stdin, os.Stdout, getConfigPath(), getDataPath())
}

func initConfig(in io.Reader, out io.Writer, defaultConfigPath, defaultDataPath string) error {
	reader := bufio.NewReader(in)
	ask := func(question, defaultVal string) string {
		return prompt(reader, out, question, defaultVal)
	}

	fmt.Fprintln(out, "familiar configuration setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	outputFile := ask("Config file path", defaultConfigPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(ask("File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var cfg config.Config

	fmt.Fprintln(out, "\n--- Matrix Account ---")
	cfg.Matrix.Homeserver = ask("Homeserver URL", "https://matrix.org")
	cfg.Matrix.UserID = ask("Bot user ID", "@familiar:matrix.org")
	cfg.Matrix.AccessToken = ask("Access token (or ${VAR} to read from the environment)", "${FAMILIAR_TOKEN}")
	cfg.Matrix.Owner = ask("Owner user ID", "")
	cfg.Matrix.Encryption = yes(ask("Enable end-to-end encryption?", "yes"))
	if cfg.Matrix.Encryption {
		cfg.Matrix.RecoveryKey = ask("Recovery key (leave empty to skip verification)", "")
	}
	cfg.Matrix.AutoJoin = yes(ask("Accept room invites automatically?", "yes"))
	cfg.Matrix.DataDir = ask("Data directory", defaultDataPath)

	fmt.Fprintln(out, "\n--- Bot ---")
	cfg.Bot.CommandPrefix = ask("Command prefix", config.DefaultCommandPrefix)
	cfg.Bot.ActivityIntervalRaw = ask("Status rotation interval", config.DefaultActivityInterval.String())
	cfg.Bot.Statuses = builtins.DefaultStatuses

	fmt.Fprintln(out, "\n--- Database ---")
	cfg.Database.Path = ask("SQLite database path", filepath.Join(defaultDataPath, "familiar.db"))

	fmt.Fprintln(out, "\n--- Logging ---")
	cfg.Logging.Level = ask("Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = ask("Log format (text/json)", "text")

	data, err := renderConfig(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(cfg.Matrix.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the bot:")
	fmt.Fprintln(out, "  familiar run")
	return nil
}

func renderConfig(cfg *config.Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	header := "# familiar configuration\n# Generated by familiar init\n\n"
	return append([]byte(header), body...), nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		fmt.Fprintln(out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}

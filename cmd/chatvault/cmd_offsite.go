package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chatvault/internal/month"
	"github.com/dukerupert/chatvault/internal/offsite"
)

func decryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt <input> <output>",
		Short: "Decrypt an offsite archive",
		Args:  cobra.ExactArgs(2),
		RunE:  runDecrypt,
	}
	cmd.Flags().String("passphrase", "", "Passphrase (defaults to the configured offsite passphrase)")
	return cmd
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	passphrase, _ := cmd.Flags().GetString("passphrase")
	if passphrase == "" {
		passphrase = os.Getenv("CHATVAULT_OFFSITE_PASSPHRASE")
	}
	if passphrase == "" {
		cfg, err := loadConfig(cmd, loggerFor(cmd))
		if err != nil {
			return err
		}
		passphrase = cfg.Offsite.Passphrase
	}
	if passphrase == "" {
		return fmt.Errorf("no passphrase: set --passphrase or offsite.passphrase")
	}

	if err := offsite.DecryptFile(args[0], args[1], passphrase); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Decrypted %s to %s\n", args[0], args[1])
	return nil
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <source> <YYYY-MM> <output>",
		Short: "Download a month's offsite archive",
		Args:  cobra.ExactArgs(3),
		RunE:  runFetch,
	}
	cmd.Flags().Bool("decrypt", true, "Decrypt encrypted archives after download")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := loggerFor(cmd)
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}

	m, err := month.Parse(args[1])
	if err != nil {
		return err
	}
	src, ok := findSource(cfg.Sources, args[0])
	if !ok {
		return fmt.Errorf("source %q is not configured", args[0])
	}

	uploader := offsite.New(cfg.Offsite, logger)
	if !uploader.Enabled() {
		return fmt.Errorf("offsite storage is not configured")
	}
	key := uploader.Key(src, m)

	output := args[2]
	decrypt, _ := cmd.Flags().GetBool("decrypt")
	encrypted := cfg.Offsite.Passphrase != ""
	download := output
	if encrypted && decrypt {
		download = output + ".enc"
	}

	f, err := os.Create(download)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := uploader.Download(cmd.Context(), key, f); err != nil {
		f.Close()
		os.Remove(download)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	if encrypted && decrypt {
		if err := offsite.DecryptFile(download, output, cfg.Offsite.Passphrase); err != nil {
			return err
		}
		os.Remove(download)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %s to %s\n", key, output)
	return nil
}

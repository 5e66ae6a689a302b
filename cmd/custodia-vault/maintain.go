// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/custodia-foundation/custodia/lib/export"
	"github.com/custodia-foundation/custodia/lib/vault"
)

// runSweep marks expired records deleted. One pass by default; with
// --watch it keeps sweeping on the configured interval until
// interrupted.
func runSweep(args []string) error {
	flags := newFlagSet("sweep")
	configPath := flags.String("config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	watch := flags.Bool("watch", false, "keep sweeping until interrupted")
	interval := flags.Duration("interval", 0, "sweep interval for --watch (default: config vault.sweep_interval)")
	if done, err := parseFlags(flags, args); done {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !*watch {
		swept, err := svc.store.SweepExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Swept %d expired records\n", swept)
		return nil
	}

	every := *interval
	if every <= 0 {
		every = svc.cfg.Vault.Interval()
	}
	sweeper := &vault.Sweeper{
		Store:    svc.store,
		Interval: every,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	fmt.Fprintf(os.Stderr, "Sweeping every %s; interrupt to stop\n", every)
	sweeper.Run(ctx)
	return nil
}

// runList prints a user's live records, one line per category.
func runList(args []string) error {
	flags := newFlagSet("list")
	configPath := flags.String("config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	userID := flags.String("user", "", "record owner (required)")
	tokenFlag := flags.String("token", "", "consent token with list scope (default: $CUSTODIA_TOKEN)")
	if done, err := parseFlags(flags, args); done {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	wire, err := resolveToken(*tokenFlag)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	entries, err := svc.store.List(ctx, *userID, wire)
	if err != nil {
		return err
	}

	fmt.Printf("Records for %s:\n", *userID)
	if len(entries) == 0 {
		fmt.Printf("  (none)\n")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("  %-24s %8d bytes  agent=%s  updated=%s  expires=%s\n",
			entry.Scope, entry.SizeBytes, entry.AgentID,
			formatMs(entry.UpdatedAt), formatExpiry(entry.ExpiresAt))
	}
	return nil
}

// runExport bundles a user's live records. With escrow recipients
// (from --recipient or config export.escrow_recipients) the output is
// a base64 age-sealed bundle only the recipients can open; without
// them it is a raw bundle carrying decrypted records, compressed per
// config export.compression.
func runExport(args []string) error {
	flags := newFlagSet("export")
	configPath := flags.String("config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	userID := flags.String("user", "", "record owner (required)")
	tokenFlag := flags.String("token", "", "consent token with export scope (default: $CUSTODIA_TOKEN)")
	out := flags.String("out", "-", "output path, - for stdout")
	recipientKeys := flags.StringArray("recipient", nil, "age public key to seal to; repeatable (default: config export.escrow_recipients)")
	if done, err := parseFlags(flags, args); done {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	wire, err := resolveToken(*tokenFlag)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	records, err := svc.store.Export(ctx, *userID, wire)
	if err != nil {
		return err
	}
	bundle := export.New(*userID, time.Now().UnixMilli(), records)

	keys := *recipientKeys
	if len(keys) == 0 {
		keys = svc.cfg.Export.EscrowRecipients
	}

	var data []byte
	if len(keys) > 0 {
		recipients, err := export.ParseRecipients(keys)
		if err != nil {
			return err
		}
		sealed, err := export.SealToRecipients(bundle, recipients)
		if err != nil {
			return err
		}
		data = append([]byte(sealed), '\n')
	} else {
		comp, err := export.ParseCompression(svc.cfg.Export.Compression)
		if err != nil {
			return err
		}
		data, err = export.EncodeWith(bundle, comp)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Warning: bundle carries decrypted records; configure escrow_recipients or pass --recipient to seal it\n")
	}

	if err := writeOutput(*out, data); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d records for %s\n", len(records), *userID)
	return nil
}

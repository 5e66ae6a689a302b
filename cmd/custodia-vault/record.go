// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/custodia-foundation/custodia/lib/scope"
	"github.com/custodia-foundation/custodia/lib/vault"
)

// recordTarget is the flag set every record subcommand shares: the
// config to wire against, the record key, and the consent token.
type recordTarget struct {
	configPath string
	userID     string
	scopeName  string
	tokenFlag  string
}

func (t *recordTarget) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&t.configPath, "config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	flags.StringVar(&t.userID, "user", "", "record owner (required)")
	flags.StringVar(&t.scopeName, "scope", "", "record category scope, e.g. vault.read.email (required)")
	flags.StringVar(&t.tokenFlag, "token", "", "consent token (default: $CUSTODIA_TOKEN)")
}

// resolve validates the target and returns the record key and token.
func (t *recordTarget) resolve() (vault.Key, string, error) {
	if t.userID == "" || t.scopeName == "" {
		return vault.Key{}, "", fmt.Errorf("--user and --scope are required")
	}
	sc, err := scope.Parse(t.scopeName)
	if err != nil {
		return vault.Key{}, "", err
	}
	wire, err := resolveToken(t.tokenFlag)
	if err != nil {
		return vault.Key{}, "", err
	}
	return vault.Key{UserID: t.userID, Scope: sc}, wire, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runStore encrypts stdin into the record at --user/--scope.
func runStore(args []string) error {
	flags := newFlagSet("store")
	var target recordTarget
	target.addFlags(flags)
	agentID := flags.String("agent", "", "agent storing the record (default: the token's agent)")
	ttl := flags.Duration("ttl", 0, "record lifetime; 0 stores without expiry")
	if done, err := parseFlags(flags, args); done {
		return err
	}

	key, wire, err := target.resolve()
	if err != nil {
		return err
	}

	plaintext, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, target.configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	record, err := svc.store.Store(ctx, key, plaintext, *agentID, wire, *ttl)
	if err != nil {
		return err
	}

	fmt.Printf("Stored %s/%s (%d bytes, expires %s)\n",
		record.Key.UserID, record.Key.Scope, record.Meta.SizeBytes, formatExpiry(record.ExpiresAt))
	return nil
}

// runRetrieve decrypts the record at --user/--scope to stdout. Output
// is the raw plaintext, suitable for piping.
func runRetrieve(args []string) error {
	flags := newFlagSet("retrieve")
	var target recordTarget
	target.addFlags(flags)
	if done, err := parseFlags(flags, args); done {
		return err
	}

	key, wire, err := target.resolve()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, target.configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	plaintext, _, err := svc.store.Retrieve(ctx, key, wire)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext: %w", err)
	}
	return nil
}

// runDelete soft-deletes the record at --user/--scope. The ciphertext
// is kept; only purge erases it.
func runDelete(args []string) error {
	flags := newFlagSet("delete")
	var target recordTarget
	target.addFlags(flags)
	if done, err := parseFlags(flags, args); done {
		return err
	}

	key, wire, err := target.resolve()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, target.configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.store.SoftDelete(ctx, key, wire); err != nil {
		return err
	}
	fmt.Printf("Deleted %s/%s (ciphertext retained)\n", key.UserID, key.Scope)
	return nil
}

// runPurge erases the record at --user/--scope, row and ciphertext.
func runPurge(args []string) error {
	flags := newFlagSet("purge")
	var target recordTarget
	target.addFlags(flags)
	if done, err := parseFlags(flags, args); done {
		return err
	}

	key, wire, err := target.resolve()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, target.configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.store.Purge(ctx, key, wire); err != nil {
		return err
	}
	fmt.Printf("Purged %s/%s\n", key.UserID, key.Scope)
	return nil
}

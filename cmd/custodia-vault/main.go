// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/custodia-foundation/custodia/lib/version"
)

// tokenEnv supplies the consent token when --token is not given.
const tokenEnv = "CUSTODIA_TOKEN"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "store":
		return runStore(os.Args[2:])
	case "retrieve":
		return runRetrieve(os.Args[2:])
	case "delete":
		return runDelete(os.Args[2:])
	case "purge":
		return runPurge(os.Args[2:])
	case "list":
		return runList(os.Args[2:])
	case "export":
		return runExport(os.Args[2:])
	case "sweep":
		return runSweep(os.Args[2:])
	case "token":
		return runToken(os.Args[2:])
	case "version":
		fmt.Printf("custodia-vault %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: custodia-vault <subcommand> [flags]

Record subcommands:
  store       Encrypt stdin into a record (requires the write scope)
  retrieve    Decrypt a record to stdout (requires the read scope)
  delete      Soft-delete a record, keeping its ciphertext
  purge       Erase a record outright
  list        List a user's live records
  export      Bundle a user's live records for portability
  sweep       Mark expired records deleted

Token subcommands:
  token issue     Issue a consent token (wire string to stdout)
  token revoke    Revoke a consent token
  token inspect   Print a token's claimed fields and validation status

Other:
  version     Print version information

Configuration comes from --config or the CUSTODIA_CONFIG environment
variable. Record and token subcommands take the consent token from
--token or CUSTODIA_TOKEN.

Run 'custodia-vault <subcommand> --help' for subcommand flags.
`)
}

// newFlagSet returns a pflag set that surfaces --help as pflag.ErrHelp
// instead of exiting, so help can be treated as success.
func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SortFlags = false
	return flags
}

// parseFlags parses args. The bool reports that the subcommand should
// stop immediately: either the flags were invalid or --help already
// printed usage.
func parseFlags(flags *pflag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return true, err
	}
	return false, nil
}

// resolveToken returns the --token value if set, falling back to the
// CUSTODIA_TOKEN environment variable.
func resolveToken(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if wire := os.Getenv(tokenEnv); wire != "" {
		return wire, nil
	}
	return "", fmt.Errorf("no token: pass --token or set %s", tokenEnv)
}

// formatMs renders an epoch-milliseconds timestamp for display.
func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// formatExpiry renders an expiry timestamp, where zero means never.
func formatExpiry(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return formatMs(ms)
}

// writeOutput writes data to path, or to stdout when path is "-".
func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

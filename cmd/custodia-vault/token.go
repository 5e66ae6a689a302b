// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/custodia-foundation/custodia/lib/audit"
	"github.com/custodia-foundation/custodia/lib/consent"
	"github.com/custodia-foundation/custodia/lib/scope"
)

func runToken(args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("token subcommand required (issue, revoke, inspect)")
	}
	switch args[0] {
	case "issue":
		return runTokenIssue(args[1:])
	case "revoke":
		return runTokenRevoke(args[1:])
	case "inspect":
		return runTokenInspect(args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown token subcommand: %q", args[0])
	}
}

// runTokenIssue issues a consent token and prints its wire string on
// stdout, ready for CUSTODIA_TOKEN or a --token flag.
func runTokenIssue(args []string) error {
	flags := newFlagSet("token issue")
	configPath := flags.String("config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	userID := flags.String("user", "", "user granting consent (required)")
	agentID := flags.String("agent", "", "agent the token authorizes (required)")
	scopeName := flags.String("scope", "", "scope the token grants (required)")
	ttl := flags.Duration("ttl", 0, "token lifetime (default: config consent.default_token_ttl)")
	if done, err := parseFlags(flags, args); done {
		return err
	}
	if *userID == "" || *agentID == "" || *scopeName == "" {
		return fmt.Errorf("--user, --agent, and --scope are required")
	}
	sc, err := scope.Parse(*scopeName)
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

	token, err := svc.tokens.Issue(ctx, *userID, *agentID, sc, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token.Wire)
	return nil
}

// runTokenRevoke revokes a token. Idempotent: revoking twice succeeds.
func runTokenRevoke(args []string) error {
	flags := newFlagSet("token revoke")
	configPath := flags.String("config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	tokenFlag := flags.String("token", "", "consent token to revoke (default: $CUSTODIA_TOKEN)")
	if done, err := parseFlags(flags, args); done {
		return err
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

	if err := svc.tokens.Revoke(ctx, wire); err != nil {
		return err
	}
	fmt.Printf("Revoked %s\n", audit.Fingerprint(wire))
	return nil
}

// runTokenInspect prints what a token claims about itself, then the
// verdict of a normal validation pass. The claimed fields come from
// parsing alone and prove nothing; only the status line involves the
// signing secret and registry.
func runTokenInspect(args []string) error {
	flags := newFlagSet("token inspect")
	configPath := flags.String("config", "", "path to custodia.yaml (default: $CUSTODIA_CONFIG)")
	tokenFlag := flags.String("token", "", "consent token to inspect (default: $CUSTODIA_TOKEN)")
	if done, err := parseFlags(flags, args); done {
		return err
	}
	wire, err := resolveToken(*tokenFlag)
	if err != nil {
		return err
	}

	token, err := consent.Parse(wire)
	if err != nil {
		return err
	}

	fmt.Printf("Fingerprint: %s\n", audit.Fingerprint(wire))
	fmt.Printf("User:        %s\n", token.UserID)
	fmt.Printf("Agent:       %s\n", token.AgentID)
	fmt.Printf("Scope:       %s\n", token.Scope)
	fmt.Printf("Issued:      %s\n", formatMs(token.IssuedAt))
	fmt.Printf("Expires:     %s\n", formatMs(token.ExpiresAt))

	ctx, stop := signalContext()
	defer stop()

	svc, err := openServices(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	decision := svc.tokens.Decide(ctx, wire, "")
	if decision.Valid {
		fmt.Printf("Status:      valid\n")
	} else {
		fmt.Printf("Status:      %s\n", decision.Reason)
	}
	return nil
}

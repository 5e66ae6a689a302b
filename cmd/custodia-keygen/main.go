// Copyright 2026 The Custodia Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"

	"github.com/custodia-foundation/custodia/lib/export"
	"github.com/custodia-foundation/custodia/lib/secret"
	"github.com/custodia-foundation/custodia/lib/version"
)

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
	case "signing":
		return runSigning()
	case "vault":
		return runVault(os.Args[2:])
	case "escrow":
		return runEscrow()
	case "version":
		fmt.Printf("custodia-keygen %s\n", version.Info())
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
	fmt.Fprintf(os.Stderr, `Usage: custodia-keygen <subcommand> [flags]

Subcommands:
  signing     Generate a token signing secret (64 hex chars)
  vault       Generate a vault encryption key (64 hex chars)
  escrow      Generate an age keypair for export escrow
  version     Print version information

Run 'custodia-keygen <subcommand> --help' for subcommand flags.
`)
}

// runSigning generates a token signing secret and prints it as hex.
// The hex text itself is the secret: the loader treats file contents
// as raw bytes, and 64 hex characters comfortably clear the 32-byte
// minimum.
func runSigning() error {
	return printRandomKey(secret.MinSigningSecretBytes)
}

// runVault generates a vault encryption key. By default the key is 32
// random bytes. With --passphrase it is derived from an interactive
// passphrase with Argon2id, so the same passphrase and salt always
// reproduce the same key.
func runVault(args []string) error {
	flags := flag.NewFlagSet("vault", flag.ExitOnError)
	passphrase := flags.Bool("passphrase", false, "derive the key from a passphrase instead of random bytes")
	saltHex := flags.String("salt", "", "hex salt for passphrase derivation (default: random, printed to stderr)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if !*passphrase {
		if *saltHex != "" {
			return fmt.Errorf("--salt requires --passphrase")
		}
		return printRandomKey(secret.VaultKeyBytes)
	}

	salt, err := resolveSalt(*saltHex)
	if err != nil {
		return err
	}

	pass, err := readPassphrase()
	if err != nil {
		return err
	}
	defer pass.Close()

	fmt.Println(deriveVaultKey(pass.Bytes(), salt))
	return nil
}

// runEscrow generates a new age keypair for export escrow and prints it.
// The public key goes to stdout (for the export.escrow_recipients list).
// The private key goes to stderr (for safekeeping by its holder).
func runEscrow() error {
	keypair, err := export.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}
	defer keypair.Close()

	fmt.Fprintf(os.Stderr, "# Private key (keep this secret; store securely):\n")
	fmt.Fprintf(os.Stderr, "%s\n", keypair.PrivateKey.String())
	fmt.Fprintf(os.Stdout, "%s\n", keypair.PublicKey)
	return nil
}

// printRandomKey prints n random bytes as lowercase hex on stdout.
func printRandomKey(n int) error {
	buffer, err := secret.Generate(n)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	defer buffer.Close()

	fmt.Printf("%x\n", buffer.Bytes())
	return nil
}

// Argon2id parameters for passphrase-derived vault keys. Changing any
// of these changes the key a given passphrase and salt derive to, so
// existing deployments could no longer re-derive their key.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	saltBytes    = 16
)

// deriveVaultKey derives a vault key from a passphrase and salt,
// returned as the hex string the key loader expects.
func deriveVaultKey(passphrase, salt []byte) string {
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, secret.VaultKeyBytes)
	encoded := hex.EncodeToString(key)
	secret.Zero(key)
	return encoded
}

// resolveSalt decodes the --salt flag, or generates a fresh random salt
// and prints it to stderr so the operator can re-derive the key later.
func resolveSalt(saltHex string) ([]byte, error) {
	if saltHex != "" {
		salt, err := hex.DecodeString(saltHex)
		if err != nil {
			return nil, fmt.Errorf("decoding --salt: %w", err)
		}
		if len(salt) < 8 {
			return nil, fmt.Errorf("salt must be at least 8 bytes, got %d", len(salt))
		}
		return salt, nil
	}

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	fmt.Fprintf(os.Stderr, "# Salt (pass as --salt to re-derive this key):\n%s\n", hex.EncodeToString(salt))
	return salt, nil
}

// readPassphrase reads a passphrase from the terminal with echo
// disabled, asking for confirmation. If stdin is not a terminal (piped
// input), it reads one line instead. The caller must Close the
// returned buffer.
func readPassphrase() (*secret.Buffer, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		// Stdin is piped — read one line without prompting.
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			return nil, fmt.Errorf("passphrase is empty")
		}
		return secret.NewFromBytes(data)
	}

	// Interactive terminal — prompt with echo disabled, confirm.
	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		secret.Zero(first)
		return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
	}

	match := len(first) == len(second)
	if match {
		for index := range first {
			if first[index] != second[index] {
				match = false
				break
			}
		}
	}
	secret.Zero(second)

	if !match {
		secret.Zero(first)
		return nil, fmt.Errorf("passphrases do not match")
	}

	// NewFromBytes zeros the source slice.
	return secret.NewFromBytes(first)
}

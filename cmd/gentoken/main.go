// Package main provides an operator tool that issues or inspects key relay
// tokens using the shared signing secret.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/narvanalabs/keyrelay/internal/auth"
)

const minSecretLength = 32

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("gentoken", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "Credential name to issue the token for")
	secret := fs.String("secret", "", "Signing secret (or set AUTH_SECRET)")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
	verify := fs.String("verify", "", "Validate this token instead of issuing one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := *secret
	if key == "" {
		key = getenv("AUTH_SECRET")
	}
	if key == "" {
		return fmt.Errorf("signing secret required: use -secret or set AUTH_SECRET")
	}
	if len(key) < minSecretLength {
		return fmt.Errorf("signing secret must be at least %d characters", minSecretLength)
	}

	svc := auth.NewTokenService(&auth.TokenConfig{Secret: []byte(key), TTL: *ttl}, nil)

	if *verify != "" {
		claims, err := svc.Validate(*verify)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen)
		green.Fprintln(stdout, "valid")
		fmt.Fprintf(stdout, "subject: %s\n", claims.Subject)
		fmt.Fprintf(stdout, "issued:  %s\n", claims.IssuedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(stdout, "expires: %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	}

	if err := auth.ValidateName(*name); err != nil {
		return err
	}

	token, err := svc.Issue(*name)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	fmt.Fprintln(stdout, token)
	return nil
}

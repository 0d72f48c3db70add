package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/forgo/trellis/pkg/jwt"
)

func main() {
	privateKeyPath := flag.String("key", "./keys/private.pem", "Path to the RSA private key")
	publicKeyPath := flag.String("pub", "./keys/public.pem", "Path to the RSA public key (with -generate)")
	generate := flag.Bool("generate", false, "Generate a new key pair and exit")
	subject := flag.String("sub", "dev-user", "Token subject")
	name := flag.String("name", "", "Display name")
	scopes := flag.String("scopes", "authenticated", "Comma-separated scopes")
	issuer := flag.String("issuer", "trellis", "Token issuer")
	expiration := flag.Duration("exp", 7*24*time.Hour, "Token lifetime")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	if *generate {
		if err := jwt.GenerateKeyPair(*privateKeyPath, *publicKeyPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s and %s\n", *privateKeyPath, *publicKeyPath)
		fmt.Printf("Start the server with AUTH_JWT_PUBLIC_KEY=%s\n", *publicKeyPath)
		return
	}

	svc, err := jwt.NewService(jwt.Config{
		PrivateKeyPath: *privateKeyPath,
		Issuer:         *issuer,
		Expiration:     *expiration,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading signing key: %v\n", err)
		fmt.Fprintf(os.Stderr, "\nGenerate one with: token -generate\n")
		os.Exit(1)
	}

	scope := strings.Join(strings.FieldsFunc(*scopes, func(r rune) bool { return r == ',' || r == ' ' }), " ")
	token, err := svc.Sign(jwt.Claims{Subject: *subject, Name: *name, Scope: scope})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing token: %v\n", err)
		os.Exit(1)
	}

	if *outputJSON {
		output := map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   int(expiration.Seconds()),
			"subject":      *subject,
			"scope":        scope,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(output)
		return
	}

	fmt.Println("Token Generated")
	fmt.Println("===============")
	fmt.Printf("Subject:  %s\n", *subject)
	fmt.Printf("Scopes:   %s\n", scope)
	fmt.Printf("Expires:  %s\n", time.Now().Add(*expiration).Format(time.RFC3339))
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:8080/api/whoami\n", token)
}

// Command devtoken mints an HS256 bearer token for AUTH_MODE=jwt.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"alumni/internal/auth"
	"alumni/internal/config"
)

func main() {
	cfg := config.Load()
	subject := flag.String("sub", "dev-user", "token subject (uid)")
	admin := flag.Bool("admin", false, "set the admin claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	key := flag.String("key", cfg.JWTSigningKey, "HS256 signing key (defaults to JWT_SIGNING_KEY)")
	issuer := flag.String("iss", cfg.JWTIssuer, "issuer (defaults to JWT_ISSUER)")
	flag.Parse()

	token, exp, err := auth.Issue(*subject, *admin, *issuer, *key, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Fprintln(os.Stdout, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
}

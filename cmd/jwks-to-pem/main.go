// Command jwks-to-pem prints a signing key of the identity provider as the
// PEM public key JWT_SECRET accepts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"fileshare/internal/logger"
	"fileshare/internal/util"
)

func main() {
	url := flag.String("url", "http://127.0.0.1:54321/auth/v1/.well-known/jwks.json", "JWKS endpoint")
	kid := flag.String("kid", "", "key id to export (default: first key)")
	flag.Parse()

	logger := logger.New()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error fetching JWKS")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		logger.Fatal().Int("status", resp.StatusCode).Msg("Unexpected JWKS response")
	}

	var jwks util.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		logger.Fatal().Err(err).Msg("Error parsing JWKS")
	}

	for _, key := range jwks.Keys {
		if *kid != "" && key.Kid != *kid {
			continue
		}
		pemKey, err := key.PublicKeyPEM()
		if err != nil {
			logger.Fatal().Err(err).Str("kid", key.Kid).Msg("Error converting key")
		}
		fmt.Fprint(os.Stdout, pemKey)
		return
	}
	logger.Fatal().Str("kid", *kid).Msg("No matching key in JWKS")
}

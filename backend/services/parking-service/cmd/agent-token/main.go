// Command agent-token mints bearer tokens for gate agents and administrators.
// With -payer and -vehicle it mints a payer scan token instead, for testing
// gate terminals.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	libconfig "parkwise/backend/libs/config"
	"parkwise/backend/services/parking-service/internal/auth"
	"parkwise/backend/services/parking-service/internal/config"
	"parkwise/backend/services/parking-service/internal/token"
)

func main() {
	agentID := flag.String("agent", "", "agent id placed in the token subject")
	role := flag.String("role", auth.RoleAgent, "token role: agent or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to the configured jwt ttl)")
	payerID := flag.String("payer", "", "mint a scan token for this payer")
	vehicleID := flag.String("vehicle", "", "vehicle id for the scan token")
	flag.Parse()

	// Only the secrets are needed, so the full service validation is skipped.
	cfg := config.Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		fail(err)
	}

	if *payerID != "" || *vehicleID != "" {
		codec, err := token.NewCodec(cfg.Token.Secret, cfg.Token.Freshness)
		if err != nil {
			fail(err)
		}
		raw, err := codec.Encode(*payerID, *vehicleID, time.Now().UTC())
		if err != nil {
			fail(err)
		}
		fmt.Println(raw)
		return
	}

	if cfg.JWT.Secret == "" {
		fail(fmt.Errorf("PARKING_JWT_SECRET is not set"))
	}
	expiresIn := cfg.JWT.TTL
	if *ttl > 0 {
		expiresIn = *ttl
	}
	raw, err := auth.NewTokenService(cfg.JWT.Secret, expiresIn).GenerateToken(*agentID, *role)
	if err != nil {
		fail(err)
	}
	fmt.Println(raw)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "agent-token:", err)
	os.Exit(1)
}

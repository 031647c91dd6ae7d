package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/ksred/schema-tenancy/internal/api"
	"github.com/ksred/schema-tenancy/internal/config"
)

func main() {
	var (
		configPath string
		token      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&token, "token", false, "Issue an admin token signed with the configured JWT secret")
	flag.Parse()

	if token {
		issueToken(configPath)
		return
	}

	fmt.Println("Generating admin API key...")

	key, err := api.GenerateAPIKey()
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}

	hash, err := api.HashAPIKey(key)
	if err != nil {
		log.Fatalf("Failed to hash API key: %v", err)
	}

	fmt.Println("\nGenerated API key (send as X-API-Key):")
	fmt.Println(key)
	fmt.Println("\nAdd the hash to your .env file or environment variables as:")
	fmt.Printf("TENANCY_HTTP_ADMIN_KEY_HASH=%s\n", hash)
	fmt.Println("\nIMPORTANT: Only the hash is stored. If you lose the key, generate a new one.")
}

func issueToken(configPath string) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	signed, expiresAt, err := api.NewAuthenticator(cfg.JWT.Secret, "").IssueToken("admin")
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println("Admin token (send as Authorization: Bearer <token>):")
	fmt.Println(signed)
	fmt.Printf("\nExpires at %s\n", expiresAt.UTC().Format(time.RFC3339))
}

// Command devtoken mints an access token the API accepts, for local testing
// without the CRM in front of it. It reads the same JWT_* variables as the
// API process and refuses to run with APP_ENV=production.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"crm-telephony/internal/auth"
	"crm-telephony/internal/config"
	"crm-telephony/internal/rbac"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func main() {
	user := flag.String("user", "", "user id carried in the token")
	role := flag.String("role", rbac.RoleAgent, "admin, sales_manager or agent")
	numbers := flag.String("numbers", "", "comma-separated assigned phone numbers")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*user, *role, *numbers, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
}

func run(user, role, numbers string, ttl time.Duration) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if os.Getenv("APP_ENV") == "production" {
		return errors.New("refusing to mint tokens in production")
	}
	if !rbac.KnownRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}

	var cfg config.AuthConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return err
	}
	cfg.AccessTokenTTL = ttl

	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	var assigned []string
	if numbers != "" {
		assigned = strings.Split(numbers, ",")
	}
	tok, err := m.Issue(time.Now(), auth.Identity{UserID: user, Role: role, AssignedNumbers: assigned})
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

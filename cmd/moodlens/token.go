package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/moodlens/moodlens/internal/auth"
	"github.com/moodlens/moodlens/internal/config"
)

func runToken(userID string) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return fmt.Errorf("invalid auth.jwt_expires_in: %w", err)
	}
	token, expiresAt, err := auth.GenerateToken(userID, cfg.Auth.JWTSecret, expiresIn)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/auth"
	"github.com/hugh/org-console/internal/database"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/pkg/config"
	"github.com/hugh/org-console/pkg/util"
	"github.com/joho/godotenv"
)

// Seeds the platform admin user and the protected system organization. Set
// ADMIN_ORG_ID to the printed organization id so the server recognizes it.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, nil, access.NewChecker(db), uuid.Nil)

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	name := os.Getenv("ADMIN_NAME")

	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		password = "admin123!"
	}
	if name == "" {
		name = "Admin"
	}

	resp, err := authService.Register(context.Background(), auth.RegisterInput{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		if err == auth.ErrUserExists {
			fmt.Printf("Admin user already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create admin user: %v", err)
	}

	// The system organization backing platform-admin checks.
	adminOrg := models.Organization{
		Name:       "Platform Administration",
		Status:     models.OrgStatusActive,
		MaxMembers: 10,
		OwnerID:    &resp.User.ID,
	}
	if err := db.Create(&adminOrg).Error; err != nil {
		log.Fatalf("failed to create system organization: %v", err)
	}
	membership := models.Membership{
		UserID:         resp.User.ID,
		OrganizationID: adminOrg.ID,
		Role:           models.RoleOwner,
	}
	if err := db.Create(&membership).Error; err != nil {
		log.Fatalf("failed to create system membership: %v", err)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", resp.User.Email)
	fmt.Printf("System organization: %s\n", adminOrg.ID)
	fmt.Printf("Set ADMIN_ORG_ID=%s in your environment.\n", adminOrg.ID)
	fmt.Printf("Token: %s\n", resp.Token)
}

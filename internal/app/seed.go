// Package app holds workspace-level helpers shared by the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nnicholas-c/CivicGrid/internal/domain"
	"github.com/nnicholas-c/CivicGrid/internal/engine"
	"github.com/nnicholas-c/CivicGrid/internal/engine/auth"
	"github.com/nnicholas-c/CivicGrid/internal/repo"
)

// SeedPassword is the password for every demo account.
const SeedPassword = "civicgrid-demo"

type seedContractor struct {
	name   string
	email  string
	skills []string
}

var seedContractors = []seedContractor{
	{"John Smith", "john.smith@example.org", []string{"roads", "paving"}},
	{"Maria Garcia", "maria.garcia@example.org", []string{"lighting", "electrical"}},
	{"James Wilson", "james.wilson@example.org", []string{"sanitation", "water"}},
}

// Seed loads a small demo dataset: one official, one civilian, three
// contractors, and two cases moved partway through the lifecycle. It is
// idempotent on the user accounts so running it twice does not error.
func Seed(ctx context.Context, e engine.Engine) error {
	now := time.Now().UTC().Format(time.RFC3339)
	hash, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	official, err := ensureUser(ctx, e.Repo, domain.User{
		ID:           uuid.New().String(),
		Email:        "sarah.chen@city.example.org",
		Name:         "Sarah Chen",
		Role:         auth.RoleOfficial,
		PasswordHash: string(hash),
		CreatedAt:    now,
	})
	if err != nil {
		return err
	}

	civilian, err := ensureUser(ctx, e.Repo, domain.User{
		ID:           uuid.New().String(),
		Email:        "david.kim@example.org",
		Name:         "David Kim",
		Role:         auth.RoleCivilian,
		PasswordHash: string(hash),
		CreatedAt:    now,
	})
	if err != nil {
		return err
	}

	var contractors []domain.Contractor
	for _, sc := range seedContractors {
		c := domain.Contractor{
			ID:        uuid.New().String(),
			Name:      sc.name,
			Email:     sc.email,
			Skills:    sc.skills,
			Active:    true,
			CreatedAt: now,
		}
		if err := e.Repo.InsertContractor(ctx, c); err != nil {
			return fmt.Errorf("seed contractor %s: %w", sc.name, err)
		}
		if _, err := ensureUser(ctx, e.Repo, domain.User{
			ID:           uuid.New().String(),
			Email:        sc.email,
			Name:         sc.name,
			Role:         auth.RoleContractor,
			PasswordHash: string(hash),
			ContractorID: &c.ID,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		contractors = append(contractors, c)
	}

	reporter := auth.Actor{ID: civilian.ID, Name: civilian.Name, Role: auth.RoleCivilian}
	officialActor := auth.Actor{ID: official.ID, Name: official.Name, Role: auth.RoleOfficial}

	pothole, err := e.Report(ctx, engine.ReportOptions{
		Description:  "Large pothole near the crosswalk",
		Location:     "5th Ave & Main St",
		Category:     "roads",
		PhotoURL:     "/photos/seed-pothole.jpg",
		ContactEmail: civilian.Email,
		Actor:        reporter,
	})
	if err != nil {
		return err
	}
	if _, err := e.Approve(ctx, officialActor, pothole.ID); err != nil {
		return err
	}
	if _, err := e.Assign(ctx, officialActor, pothole.ID, contractors[0].ID); err != nil {
		return err
	}

	_, err = e.Report(ctx, engine.ReportOptions{
		Description: "Streetlight flickering all night",
		Location:    "Oak Park, north entrance",
		Category:    "lighting",
		PhotoURL:    "/photos/seed-streetlight.jpg",
		Actor:       auth.Anonymous(),
	})
	return err
}

func ensureUser(ctx context.Context, r repo.Repo, u domain.User) (domain.User, error) {
	existing, err := r.GetUserByEmail(ctx, u.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if err := r.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

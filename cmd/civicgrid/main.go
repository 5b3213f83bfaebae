package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/nnicholas-c/CivicGrid/internal/app"
	"github.com/nnicholas-c/CivicGrid/internal/config"
	"github.com/nnicholas-c/CivicGrid/internal/db"
	"github.com/nnicholas-c/CivicGrid/internal/domain"
	"github.com/nnicholas-c/CivicGrid/internal/engine"
	"github.com/nnicholas-c/CivicGrid/internal/engine/auth"
	"github.com/nnicholas-c/CivicGrid/internal/migrate"
	"github.com/nnicholas-c/CivicGrid/internal/repo"
	"github.com/nnicholas-c/CivicGrid/internal/server"
	"github.com/nnicholas-c/CivicGrid/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "civicgrid",
	Short: "CivicGrid CLI",
	Long: `CivicGrid tracks civic issue reports from sighting to resolution.
A case moves pending -> approved -> assigned -> in_progress -> completed -> closed,
or is denied at review. Officials triage and close, contractors do the work,
civilians (or anonymous reporters) open cases with photo evidence. Every
transition lands in the case history; 'civicgrid log tail' shows the event feed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CIVICGRID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "acting user id")
	rootCmd.PersistentFlags().String("actor-name", "Local Admin", "acting user name")
	rootCmd.PersistentFlags().String("role", auth.RoleOfficial, "acting role (civilian, contractor, official)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(contractorCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func cliActor() auth.Actor {
	return auth.Actor{
		ID:   viper.GetString("actor-id"),
		Name: viper.GetString("actor-name"),
		Role: viper.GetString("role"),
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage civicgrid.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default civicgrid.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate civicgrid.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Database ready at %s\n", db.Path(viper.GetString("workspace")))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo users, contractors and cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := app.Seed(ctx, e); err != nil {
					return err
				}
				fmt.Printf("Seeded demo data (all accounts use password %q)\n", app.SeedPassword)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if secret == "" {
				secret = os.Getenv("CIVICGRID_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required: set server.jwt_secret in civicgrid.yml or CIVICGRID_JWT_SECRET")
			}
			photos, err := storage.New(filepath.Join(workspace, ".civicgrid", "photos"), cfg.Storage.MaxUploadBytes, cfg.Storage.AllowedTypes)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:               e,
				Photos:               photos,
				BasePath:             cfg.Server.BasePath,
				Auth:                 server.AuthConfig{JWTSecret: secret},
				AllowAnonymousReport: cfg.AnonymousReportAllowed(),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving CivicGrid API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
		Long:  "Cases are reported issues. Officials approve, deny, assign, escalate and close; contractors start and complete the work assigned to them.",
	}
	c.AddCommand(caseReportCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseHistoryCmd())
	c.AddCommand(caseApproveCmd())
	c.AddCommand(caseDenyCmd())
	c.AddCommand(caseAssignCmd())
	c.AddCommand(caseStartCmd())
	c.AddCommand(caseCompleteCmd())
	c.AddCommand(caseCloseCmd())
	c.AddCommand(caseEscalateCmd())
	c.AddCommand(casePaymentCmd())
	return c
}

func caseReportCmd() *cobra.Command {
	var opts engine.ReportOptions
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report a new case",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lat") {
				opts.Lat = &lat
			}
			if cmd.Flags().Changed("lng") {
				opts.Lng = &lng
			}
			opts.Actor = cliActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Report(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "what is wrong")
	cmd.Flags().StringVar(&opts.Location, "location", "", "where it is")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (roads, lighting, sanitation, water, parks, other)")
	cmd.Flags().StringVar(&opts.PhotoURL, "photo", "", "photo reference (required)")
	cmd.Flags().StringVar(&opts.ContactEmail, "contact-email", "", "contact email")
	cmd.Flags().StringVar(&opts.ContactPhone, "contact-phone", "", "contact phone")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("photo")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	var open bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ExcludeTerminal = open
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cases, err := e.Repo.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Ref", "Status", "Priority", "Location", "Assignee", "Description"})
				for _, c := range cases {
					tw.AppendRow(table.Row{domain.Reference(c.ID), c.Status, c.Priority, c.Location, c.AssigneeName, truncate(c.Description, 48)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Query, "q", "", "search description and location")
	cmd.Flags().StringVar(&f.ReporterID, "reporter", "", "reporter id filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee id filter")
	cmd.Flags().BoolVar(&open, "open", false, "exclude closed and denied cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show case history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Action", "By", "Detail"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.TS, h.Action, h.PerformedBy, h.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// transitionCmd covers the transitions that need no extra input.
func transitionCmd(use, short string, run func(context.Context, engine.Engine, string) (domain.Case, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := run(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseApproveCmd() *cobra.Command {
	return transitionCmd("approve <id>", "Approve a pending case", func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
		return e.Approve(ctx, cliActor(), id)
	})
}

func caseDenyCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "deny <id>",
		Short: "Deny a pending case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Deny(ctx, cliActor(), args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "denial reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func caseAssignCmd() *cobra.Command {
	var contractorID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a case to a contractor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Assign(ctx, cliActor(), args[0], contractorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&contractorID, "contractor", "", "contractor id")
	_ = cmd.MarkFlagRequired("contractor")
	return cmd
}

func caseStartCmd() *cobra.Command {
	return transitionCmd("start <id>", "Start work on an assigned case", func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
		return e.StartWork(ctx, cliActor(), id)
	})
}

func caseCompleteCmd() *cobra.Command {
	var photo, notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Submit completion of an in-progress case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitCompletion(ctx, cliActor(), args[0], photo, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&photo, "photo", "", "completion photo reference")
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	return cmd
}

func caseCloseCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a completed case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Close(ctx, cliActor(), args[0], notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "closing notes")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func caseEscalateCmd() *cobra.Command {
	return transitionCmd("escalate <id>", "Raise a case to high priority", func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
		return e.Escalate(ctx, cliActor(), id)
	})
}

func casePaymentCmd() *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "payment <id>",
		Short: "Set the payment amount for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdatePayment(ctx, cliActor(), args[0], amount)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "payment amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func contractorCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contractor",
		Short: "Manage contractors",
	}
	c.AddCommand(contractorAddCmd())
	c.AddCommand(contractorListCmd())
	c.AddCommand(contractorActiveCmd("activate", true))
	c.AddCommand(contractorActiveCmd("deactivate", false))
	return c
}

func contractorAddCmd() *cobra.Command {
	var name, email, phone string
	var skills []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a contractor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := domain.Contractor{
					ID:        uuid.New().String(),
					Name:      name,
					Email:     email,
					Phone:     phone,
					Skills:    skills,
					Active:    true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertContractor(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contractor name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "skill (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func contractorListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contractors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContractors(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Skills", "Active"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, strings.Join(c.Skills, ","), c.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active contractors")
	return cmd
}

func contractorActiveCmd(use string, active bool) *cobra.Command {
	short := "Deactivate a contractor"
	if active {
		short = "Reactivate a contractor"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetContractorActive(ctx, args[0], active); err != nil {
					return err
				}
				c, err := e.Repo.GetContractor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	u.AddCommand(userAddCmd())
	u.AddCommand(userListCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var email, name, role, password, contractorID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user account (including officials)",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case auth.RoleCivilian, auth.RoleContractor, auth.RoleOfficial:
			default:
				return fmt.Errorf("role must be civilian, contractor or official")
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			u := domain.User{
				ID:           uuid.New().String(),
				Email:        strings.ToLower(strings.TrimSpace(email)),
				Name:         name,
				Role:         role,
				PasswordHash: string(hash),
				CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			}
			if contractorID != "" {
				u.ContractorID = &contractorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", auth.RoleCivilian, "role")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&contractorID, "contractor", "", "linked contractor id (contractor role)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "cgk_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:        uuid.New().String(),
				UserID:    userID,
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetUser(ctx, userID); err != nil {
					return err
				}
				if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": secret})
				}
				fmt.Printf("Key %s created. Store the secret now, it is not shown again:\n%s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nnicholas-c/CivicGrid/internal/domain"
	"github.com/nnicholas-c/CivicGrid/internal/engine"
	"github.com/nnicholas-c/CivicGrid/internal/engine/auth"
	"github.com/nnicholas-c/CivicGrid/internal/repo"
	"github.com/nnicholas-c/CivicGrid/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine               engine.Engine
	Photos               storage.Store
	BasePath             string
	Auth                 AuthConfig
	AllowAnonymousReport bool
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot transition from pending to assigned"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"pending\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the CivicGrid API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				ctx := context.WithValue(r.Context(), requestKey{}, r)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("CivicGrid API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuthOps(group, cfg.Engine, cfg.Auth)
	registerCases(group, cfg.Engine, cfg.AllowAnonymousReport)
	registerContractors(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerPhotos(router, basePath, cfg.Photos)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var de auth.DeniedError
	if errors.As(err, &de) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": de.Role, "action": de.Action})
	}
	var ne auth.NotAssigneeError
	if errors.As(err, &ne) {
		return newAPIError(http.StatusForbidden, "forbidden_not_assignee", err.Error(), map[string]any{"case_id": ne.CaseID})
	}
	var te engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var tooLarge storage.TooLargeError
	if errors.As(err, &tooLarge) {
		return newAPIError(http.StatusRequestEntityTooLarge, "payload_too_large", err.Error(), map[string]any{"max_bytes": tooLarge.MaxBytes})
	}
	var unsupported storage.UnsupportedTypeError
	if errors.As(err, &unsupported) {
		return newAPIError(http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error(), map[string]any{"content_type": unsupported.ContentType})
	}
	var unavailable storage.UnavailableError
	if errors.As(err, &unavailable) {
		return newAPIError(http.StatusBadGateway, "storage_unavailable", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	oas.Security = []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>CivicGrid API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuthOps(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "signup",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Create an account",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SignupRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		email := strings.ToLower(strings.TrimSpace(input.Body.Email))
		if email == "" || strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email and name are required", nil)
		}
		if len(input.Body.Password) < 8 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "password must be at least 8 characters", nil)
		}
		role := input.Body.Role
		switch role {
		case auth.RoleCivilian, auth.RoleContractor:
		case auth.RoleOfficial:
			// Officials are provisioned by an operator, not self-service.
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "official accounts cannot be self-registered", nil)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role must be civilian or contractor", nil)
		}
		if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
			return nil, newAPIError(http.StatusConflict, "conflict", "email already registered", nil)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Body.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, handleError(err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		u := domain.User{
			ID:           uuid.New().String(),
			Email:        email,
			Name:         input.Body.Name,
			Role:         role,
			PasswordHash: string(hash),
			CreatedAt:    now,
		}
		if role == auth.RoleContractor {
			contractor := domain.Contractor{
				ID:        uuid.New().String(),
				Name:      input.Body.Name,
				Email:     email,
				Active:    true,
				CreatedAt: now,
			}
			if err := e.Repo.InsertContractor(ctx, contractor); err != nil {
				return nil, handleError(err)
			}
			u.ContractorID = &contractor.ID
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		token, err := signToken(authCfg.JWTSecret, authCfg.tokenTTL(), actorIDForUser(u), u.Name, u.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token, User: userResponse(u)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Log in",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		email := strings.ToLower(strings.TrimSpace(input.Body.Email))
		u, err := e.Repo.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
			}
			return nil, handleError(err)
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(input.Body.Password)) != nil {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		token, err := signToken(authCfg.JWTSecret, authCfg.tokenTTL(), actorIDForUser(u), u.Name, u.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token, User: userResponse(u)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, act.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Contractor tokens carry the contractor ID as subject.
				return &struct {
					Body UserResponse `json:"body"`
				}{Body: UserResponse{ID: act.ID, Name: act.Name, Role: act.Role}}, nil
			}
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

// actorIDForUser picks the identity the token should carry. Contractor
// accounts act as their contractor profile so assignment checks line up.
func actorIDForUser(u domain.User) string {
	if u.Role == auth.RoleContractor && u.ContractorID != nil {
		return *u.ContractorID
	}
	return u.ID
}

func registerCases(api huma.API, e engine.Engine, allowAnonymous bool) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Report a case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ReportCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		act := actorFromContext(ctx)
		if act.IsAnonymous() && !allowAnonymous {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		c, err := e.Report(ctx, engine.ReportOptions{
			Description:  input.Body.Description,
			Location:     input.Body.Location,
			Lat:          input.Body.Lat,
			Lng:          input.Body.Lng,
			Category:     input.Body.Category,
			PhotoURL:     input.Body.PhotoURL,
			ContactEmail: input.Body.ContactEmail,
			ContactPhone: input.Body.ContactPhone,
			Actor:        act,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	// The open-case feed is the public dashboard view; anyone may read it.
	huma.Register(api, huma.Operation{
		OperationID: "list-open-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List open cases",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Priority string `query:"priority" enum:",normal,high"`
		Query    string `query:"q"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		return listCases(ctx, e, repo.CaseFilters{
			Priority:        input.Priority,
			Query:           input.Query,
			ExcludeTerminal: true,
		}, input.Limit, input.Cursor)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-cases",
		Method:      http.MethodGet,
		Path:        "/cases/mine",
		Summary:     "List cases I reported",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return listCases(ctx, e, repo.CaseFilters{ReporterID: act.ID}, input.Limit, input.Cursor)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assigned-cases",
		Method:      http.MethodGet,
		Path:        "/cases/assigned",
		Summary:     "List cases assigned to me",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if act.Role != auth.RoleContractor {
			return nil, handleError(auth.DeniedError{Role: act.Role, Action: "read_assigned"})
		}
		return listCases(ctx, e, repo.CaseFilters{AssigneeID: act.ID}, input.Limit, input.Cursor)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-all-cases",
		Method:      http.MethodGet,
		Path:        "/cases/all",
		Summary:     "List all cases with filters",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:",pending,approved,assigned,in_progress,completed,closed,denied"`
		Priority string `query:"priority" enum:",normal,high"`
		Query    string `query:"q"`
		Open     bool   `query:"open"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Authorize(act, auth.ActionReadAll, domain.Case{}); err != nil {
			return nil, handleError(err)
		}
		return listCases(ctx, e, repo.CaseFilters{
			Status:          input.Status,
			Priority:        input.Priority,
			Query:           input.Query,
			ExcludeTerminal: input.Open,
		}, input.Limit, input.Cursor)
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-status-counts",
		Method:      http.MethodGet,
		Path:        "/cases/status-counts",
		Summary:     "Case counts per status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusCountsResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Authorize(act, auth.ActionReadAll, domain.Case{}); err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountCasesByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return &struct {
			Body StatusCountsResponse `json:"body"`
		}{Body: StatusCountsResponse{Counts: counts, Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-history",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/history",
		Summary:     "Case history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: historyResponse(c.History)}, nil
	})

	registerTransition(api, "approve-case", "/cases/{id}/approve", "Approve case",
		func(ctx context.Context, act auth.Actor, id string) (domain.Case, error) {
			return e.Approve(ctx, act, id)
		})

	huma.Register(api, huma.Operation{
		OperationID: "deny-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/deny",
		Summary:     "Deny case",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DenyCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Deny(ctx, act, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/assign",
		Summary:     "Assign case to a contractor",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AssignCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Assign(ctx, act, input.ID, input.Body.ContractorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	registerTransition(api, "start-case", "/cases/{id}/start", "Start work",
		func(ctx context.Context, act auth.Actor, id string) (domain.Case, error) {
			return e.StartWork(ctx, act, id)
		})

	huma.Register(api, huma.Operation{
		OperationID: "complete-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/complete",
		Summary:     "Submit completion",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CompleteCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitCompletion(ctx, act, input.ID, input.Body.PhotoURL, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/close",
		Summary:     "Close case",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body CloseCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Close(ctx, act, input.ID, input.Body.ClosingNotes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	registerTransition(api, "escalate-case", "/cases/{id}/escalate", "Escalate case priority",
		func(ctx context.Context, act auth.Actor, id string) (domain.Case, error) {
			return e.Escalate(ctx, act, id)
		})

	huma.Register(api, huma.Operation{
		OperationID: "update-case-payment",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/payment",
		Summary:     "Update payment amount",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdatePaymentRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdatePayment(ctx, act, input.ID, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})
}

// listCases runs one paginated projection over the case store.
func listCases(ctx context.Context, e engine.Engine, filter repo.CaseFilters, limit int, cursor string) (*struct {
	Body paginatedCases `json:"body"`
}, error) {
	n := normalizeLimit(limit)
	cursorCreated, cursorID, err := parseCompositeCursor(cursor)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
	}
	filter.Limit = n + 1
	filter.CursorCreatedAt = cursorCreated
	filter.CursorID = cursorID
	cases, err := e.Repo.ListCases(ctx, filter)
	if err != nil {
		return nil, handleError(err)
	}
	resp := paginatedCases{Items: []CaseResponse{}}
	if len(cases) > n {
		resp.NextCursor = composeCursor(cases[n].CreatedAt, cases[n].ID)
		cases = cases[:n]
	}
	resp.Items = mapCases(cases)
	return &struct {
		Body paginatedCases `json:"body"`
	}{Body: resp}, nil
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

// registerTransition covers the body-less transition endpoints.
func registerTransition(api huma.API, opID, route, summary string, run func(context.Context, auth.Actor, string) (domain.Case, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := run(ctx, act, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})
}

func registerContractors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contractor",
		Method:        http.MethodPost,
		Path:          "/contractors",
		Summary:       "Register contractor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateContractorRequest `json:"body"`
	}) (*struct {
		Body ContractorResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if act.Role != auth.RoleOfficial {
			return nil, handleError(auth.DeniedError{Role: act.Role, Action: "register_contractor"})
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		c := domain.Contractor{
			ID:        uuid.New().String(),
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Phone:     input.Body.Phone,
			Skills:    input.Body.Skills,
			Active:    true,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertContractor(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractorResponse `json:"body"`
		}{Body: contractorResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contractors",
		Method:      http.MethodGet,
		Path:        "/contractors",
		Summary:     "List contractors",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active"`
	}) (*struct {
		Body []ContractorResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Authorize(act, auth.ActionReadAll, domain.Case{}); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListContractors(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ContractorResponse, 0, len(items))
		for _, c := range items {
			res = append(res, contractorResponse(c))
		}
		return &struct {
			Body []ContractorResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contractor",
		Method:      http.MethodGet,
		Path:        "/contractors/{id}",
		Summary:     "Get contractor",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ContractorResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetContractor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractorResponse `json:"body"`
		}{Body: contractorResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-contractor-active",
		Method:      http.MethodPatch,
		Path:        "/contractors/{id}/active",
		Summary:     "Activate or deactivate contractor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Active bool `json:"active"`
		} `json:"body"`
	}) (*struct {
		Body ContractorResponse `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if act.Role != auth.RoleOfficial {
			return nil, handleError(auth.DeniedError{Role: act.Role, Action: "manage_contractor"})
		}
		if err := e.Repo.SetContractorActive(ctx, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetContractor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContractorResponse `json:"body"`
		}{Body: contractorResponse(c)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",case,contractor,user"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		act, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Authorize(act, auth.ActionReadAll, domain.Case{}); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

var contentTypeByExt = map[string]string{
	".jpg": "image/jpeg",
	".png": "image/png",
}

// registerPhotos handles the upload and serving endpoints directly on the
// router; multipart bodies do not go through the JSON pipeline.
func registerPhotos(r chi.Router, basePath string, photos storage.Store) {
	r.Post(path.Join(basePath, "photos"), func(w http.ResponseWriter, req *http.Request) {
		file, header, err := req.FormFile("photo")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart field 'photo' is required", nil))
			return
		}
		defer file.Close()
		ref, err := photos.Save(file, header.Header.Get("Content-Type"), header.Size)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(PhotoResponse{PhotoURL: ref})
	})

	r.Get("/photos/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		f, err := photos.Open("/photos/" + name)
		if err != nil {
			if os.IsNotExist(err) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "photo not found", nil))
				return
			}
			respondStatusError(w, handleError(err))
			return
		}
		defer f.Close()
		if ct, ok := contentTypeByExt[strings.ToLower(path.Ext(name))]; ok {
			w.Header().Set("Content-Type", ct)
		}
		_, _ = io.Copy(w, f)
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

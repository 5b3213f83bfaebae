package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/nnicholas-c/CivicGrid/internal/config"
	"github.com/nnicholas-c/CivicGrid/internal/db"
	"github.com/nnicholas-c/CivicGrid/internal/engine"
	"github.com/nnicholas-c/CivicGrid/internal/migrate"
	"github.com/nnicholas-c/CivicGrid/internal/storage"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, allowAnonymous bool) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	photos, err := storage.New(t.TempDir(), 5<<20, []string{"image/jpeg", "image/png"})
	if err != nil {
		t.Fatalf("photo store: %v", err)
	}
	handler, err := New(Config{
		Engine:               e,
		Photos:               photos,
		BasePath:             "/v1",
		Auth:                 AuthConfig{JWTSecret: testSecret},
		AllowAnonymousReport: allowAnonymous,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// officialToken mints a token for an operator-provisioned official. Signup
// refuses the official role, so tests sign one directly.
func officialToken(t *testing.T) string {
	t.Helper()
	token, err := signToken(testSecret, time.Hour, "off-1", "Sarah Chen", "official")
	if err != nil {
		t.Fatalf("sign official token: %v", err)
	}
	return token
}

func signup(t *testing.T, srv *testServer, email, name, role string) TokenResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", SignupRequest{
		Email:    email,
		Password: "correct horse",
		Name:     name,
		Role:     role,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signup status %d: %s", res.StatusCode, string(data))
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return tok
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	return envelope.Error.Code
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()

	civilian := signup(t, srv, "david.kim@example.org", "David Kim", "civilian")
	contractor := signup(t, srv, "john.smith@example.org", "John Smith", "contractor")
	if contractor.User.ContractorID == nil {
		t.Fatalf("contractor signup did not create a profile")
	}
	official := officialToken(t)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", ReportCaseRequest{
		Description: "Pothole on Main St",
		Location:    "Main St & 5th Ave",
		Category:    "roads",
		PhotoURL:    "/photos/pothole.jpg",
	}, bearer(civilian.Token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("report status %d: %s", res.StatusCode, string(data))
	}
	var reported CaseResponse
	if err := json.Unmarshal(data, &reported); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	if reported.Status != "pending" || reported.Reference == "" {
		t.Fatalf("unexpected reported case: %+v", reported)
	}
	caseURL := srv.URL + "/v1/cases/" + reported.ID

	if res, data = doJSON(t, client, http.MethodPost, caseURL+"/approve", nil, bearer(official)); res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, caseURL+"/assign", AssignCaseRequest{
		ContractorID: *contractor.User.ContractorID,
	}, bearer(official))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	if res, data = doJSON(t, client, http.MethodPost, caseURL+"/start", nil, bearer(contractor.Token)); res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, caseURL+"/payment", UpdatePaymentRequest{Amount: 150}, bearer(official))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("payment status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, caseURL+"/complete", CompleteCaseRequest{
		PhotoURL: "/photos/fixed.jpg",
		Notes:    "Patched and sealed",
	}, bearer(contractor.Token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, caseURL+"/close", CloseCaseRequest{ClosingNotes: "Verified on site"}, bearer(official))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close status %d: %s", res.StatusCode, string(data))
	}
	var closed CaseResponse
	if err := json.Unmarshal(data, &closed); err != nil {
		t.Fatalf("unmarshal closed case: %v", err)
	}
	if closed.Status != "closed" || closed.PaymentAmount == nil || *closed.PaymentAmount != 150 {
		t.Fatalf("unexpected closed case: %+v", closed)
	}
	if len(closed.History) != 7 {
		t.Fatalf("expected 7 history entries, got %d", len(closed.History))
	}

	// Closed is terminal.
	res, data = doJSON(t, client, http.MethodPost, caseURL+"/approve", nil, bearer(official))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on closed case, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition code, got %s", code)
	}
}

func TestAnonymousReportToggle(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	body := ReportCaseRequest{
		Description:  "Streetlight out",
		Location:     "Oak Ave near the park",
		PhotoURL:     "/photos/light.jpg",
		ContactEmail: "tips@example.org",
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cases", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("anonymous report status %d: %s", res.StatusCode, string(data))
	}
	var c CaseResponse
	_ = json.Unmarshal(data, &c)
	if c.ReporterID != nil {
		t.Fatalf("anonymous case must not carry a reporter id")
	}

	strict, cleanupStrict := newTestServer(t, false)
	defer cleanupStrict()
	res, data = doJSON(t, strict.Client(), http.MethodPost, strict.URL+"/v1/cases", body, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with anonymous reporting off, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRoleScopedReads(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()

	reporter := signup(t, srv, "reporter@example.org", "Reporter", "civilian")
	other := signup(t, srv, "other@example.org", "Other", "civilian")
	official := officialToken(t)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", ReportCaseRequest{
		Description: "Trash overflow",
		Location:    "2nd and Pine",
		PhotoURL:    "/photos/trash.jpg",
	}, bearer(reporter.Token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("report status %d: %s", res.StatusCode, string(data))
	}
	var c CaseResponse
	_ = json.Unmarshal(data, &c)

	listCases := func(url string, headers map[string]string) (int, paginatedCases) {
		res, data := doJSON(t, client, http.MethodGet, url, nil, headers)
		var page paginatedCases
		if res.StatusCode == http.StatusOK {
			if err := json.Unmarshal(data, &page); err != nil {
				t.Fatalf("unmarshal page from %s: %v", url, err)
			}
		}
		return res.StatusCode, page
	}

	// The open feed and case detail are public.
	if status, page := listCases(srv.URL+"/v1/cases", nil); status != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("open feed status %d items %d", status, len(page.Items))
	}
	if res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases/"+c.ID, nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("anonymous get status %d", res.StatusCode)
	}

	// /mine is scoped to the reporter.
	if status, page := listCases(srv.URL+"/v1/cases/mine", bearer(reporter.Token)); status != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("reporter mine status %d items %d", status, len(page.Items))
	}
	if status, page := listCases(srv.URL+"/v1/cases/mine", bearer(other.Token)); status != http.StatusOK || len(page.Items) != 0 {
		t.Fatalf("other mine status %d items %d", status, len(page.Items))
	}
	if status, _ := listCases(srv.URL+"/v1/cases/mine", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous mine, got %d", status)
	}

	// /assigned is contractor-only, /all official-only.
	if status, _ := listCases(srv.URL+"/v1/cases/assigned", bearer(other.Token)); status != http.StatusForbidden {
		t.Fatalf("expected 403 for civilian assigned view, got %d", status)
	}
	if status, _ := listCases(srv.URL+"/v1/cases/all", bearer(other.Token)); status != http.StatusForbidden {
		t.Fatalf("expected 403 for civilian all view, got %d", status)
	}
	if status, page := listCases(srv.URL+"/v1/cases/all", bearer(official)); status != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("official all status %d items %d", status, len(page.Items))
	}

	// Denied cases drop out of the open feed but stay in /all.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/deny", DenyCaseRequest{Reason: "duplicate"}, bearer(official))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deny status %d: %s", res.StatusCode, string(data))
	}
	if status, page := listCases(srv.URL+"/v1/cases", nil); status != http.StatusOK || len(page.Items) != 0 {
		t.Fatalf("open feed after deny status %d items %d", status, len(page.Items))
	}
	if status, page := listCases(srv.URL+"/v1/cases/all?status=denied", bearer(official)); status != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("all denied status %d items %d", status, len(page.Items))
	}
}

func TestForbiddenAndValidationEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()

	civilian := signup(t, srv, "civ@example.org", "Civ", "civilian")
	official := officialToken(t)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", ReportCaseRequest{
		Description: "Broken swing",
		Location:    "Riverside Park",
		PhotoURL:    "/photos/swing.jpg",
	}, bearer(civilian.Token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("report status %d: %s", res.StatusCode, string(data))
	}
	var c CaseResponse
	_ = json.Unmarshal(data, &c)
	caseURL := srv.URL + "/v1/cases/" + c.ID

	res, data = doJSON(t, client, http.MethodPost, caseURL+"/approve", nil, bearer(civilian.Token))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for civilian approve, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden code, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, caseURL+"/deny", DenyCaseRequest{Reason: ""}, bearer(official))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty reason, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("expected bad_request code, got %s", code)
	}

	// Missing report evidence surfaces the field in details.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", ReportCaseRequest{
		Description: "No photo",
		Location:    "Somewhere",
	}, bearer(civilian.Token))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without photo, got %d: %s", res.StatusCode, string(data))
	}
}

func TestSignupRules(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	client := srv.Client()

	signup(t, srv, "dup@example.org", "First", "civilian")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signup", SignupRequest{
		Email:    "DUP@example.org",
		Password: "correct horse",
		Name:     "Second",
		Role:     "civilian",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signup", SignupRequest{
		Email:    "boss@example.org",
		Password: "correct horse",
		Name:     "Boss",
		Role:     "official",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for official signup, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", LoginRequest{
		Email:    "dup@example.org",
		Password: "wrong password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials code, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", LoginRequest{
		Email:    "dup@example.org",
		Password: "correct horse",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, bearer(tok.Token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	_ = json.Unmarshal(data, &me)
	if me.Email != "dup@example.org" || me.Role != "civilian" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/service/auth"
	"github.com/splax/splitter/internal/service/avatar"
	"github.com/splax/splitter/internal/service/diagnostics"
	"github.com/splax/splitter/internal/service/expense"
	"github.com/splax/splitter/internal/service/friend"
	"github.com/splax/splitter/internal/service/group"
	"github.com/splax/splitter/internal/service/invite"
	"github.com/splax/splitter/internal/ws"
	"github.com/splax/splitter/pkg/config"
)

const testPassword = "Aa1!secure"

type testEnv struct {
	router  *Router
	store   *memoryStore
	hub     *ws.Hub
	limiter *rateLimiterStub
	metrics *Metrics
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T, production bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.APIConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: time.Hour,
		BcryptCost:     4,
	}
	store := newMemoryStore()
	hub := ws.NewHub(ctx, logger)
	invites := invite.New(store, logger, time.Hour, "")
	groups := group.New(store, store, invites, hub, logger)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	limiter := newRateLimiterStub()

	router := NewRouter(Options{
		Logger:     logger,
		Auth:       auth.New(store, logger, cfg, auth.WithCollisionHook(metrics.UniqueIDRetry)),
		Friends:    friend.New(store, store, invites, hub, logger),
		Groups:     groups,
		Expenses:   expense.New(store, groups, logger),
		Avatars:    avatar.New(store, nil, "", 0, logger),
		Gemini:     diagnostics.NewGemini(diagnostics.GeminiConfig{}, nil, logger),
		Hub:        hub,
		Limiter:    limiter,
		Metrics:    metrics,
		Production: production,
	})
	t.Cleanup(router.Close)
	return &testEnv{router: router, store: store, hub: hub, limiter: limiter, metrics: metrics, reg: reg}
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

type registered struct {
	ID       int64
	Token    string
	UniqueID string
}

func (e *testEnv) register(t *testing.T, email, username string) registered {
	t.Helper()
	rr := e.do(http.MethodPost, "/auth/register", `{"email":"`+email+`","password":"`+testPassword+`","username":"`+username+`"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("register %s: status %d body %s", email, rr.Code, rr.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
		User  struct {
			ID       int64  `json:"id"`
			UniqueID string `json:"uniqueId"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	return registered{ID: payload.User.ID, Token: payload.Token, UniqueID: payload.User.UniqueID}
}

func (e *testEnv) counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := e.reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return payload
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
	if got, _ := payload["error"].(string); got != msg {
		t.Fatalf("expected error %q, got %q", msg, got)
	}
	if code, _ := payload["code"].(float64); int(code) != status {
		t.Fatalf("expected code %d, got %v", status, payload["code"])
	}
}

func TestRegisterReturnsTokenAndUser(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(http.MethodPost, "/auth/register", `{"email":"  Alice@Example.COM ","password":"`+testPassword+`","username":" alice "}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if token, _ := payload["token"].(string); token == "" {
		t.Fatalf("expected token in response")
	}
	user, _ := payload["user"].(map[string]any)
	if user["email"] != "alice@example.com" || user["username"] != "alice" {
		t.Fatalf("unexpected user payload %v", user)
	}
	if id, _ := user["id"].(float64); id != 1 {
		t.Fatalf("expected numeric id 1, got %v", user["id"])
	}
	uniqueID, _ := user["uniqueId"].(string)
	if len(uniqueID) != 9 || uniqueID[0] != '#' {
		t.Fatalf("unexpected unique id %q", uniqueID)
	}
	if _, ok := user["avatarUrl"]; ok {
		t.Fatalf("register response should not include avatarUrl")
	}
	if got := env.counterValue(t, "splitter_api_users_registered_total"); got != 1 {
		t.Fatalf("expected registration counted, got %v", got)
	}

	dup := env.do(http.MethodPost, "/auth/register", `{"email":"alice@example.com","password":"`+testPassword+`","username":"other"}`, "")
	expectError(t, dup, http.StatusConflict, "Email already in use")
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, false)

	cases := []struct {
		name   string
		body   string
		ctype  string
		status int
		msg    string
	}{
		{"wrong content type", `{}`, "text/plain", http.StatusUnsupportedMediaType, "Content-Type must be application/json"},
		{"array field", `{"email":["a"],"password":"x","username":"y"}`, "application/json", http.StatusBadRequest, "Invalid field types: expected strings for email, password, username"},
		{"missing field", `{"email":"a@b.co","password":"x"}`, "application/json", http.StatusBadRequest, "Invalid field types: expected strings for email, password, username"},
		{"blank field", `{"email":"a@b.co","password":"` + testPassword + `","username":"   "}`, "application/json", http.StatusBadRequest, "Please provide email, password, and username"},
		{"bad email", `{"email":"nope","password":"` + testPassword + `","username":"u"}`, "application/json; charset=utf-8", http.StatusBadRequest, "Invalid email format"},
		{"weak password", `{"email":"a@b.co","password":"password","username":"u"}`, "application/json", http.StatusBadRequest, auth.PasswordPolicyMessage},
		{"malformed json", `{"email":`, "application/json", http.StatusBadRequest, "invalid JSON body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.ctype)
			rr := httptest.NewRecorder()
			env.router.ServeHTTP(rr, req)
			expectError(t, rr, tc.status, tc.msg)
		})
	}
}

func TestRegisterCoercesNumericFields(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(http.MethodPost, "/auth/register", `{"email":"num@example.com","password":"`+testPassword+`","username":12345}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	user, _ := decodeMap(t, rr)["user"].(map[string]any)
	if user["username"] != "12345" {
		t.Fatalf("expected numeric username coerced, got %v", user["username"])
	}
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")

	rr := env.do(http.MethodPost, "/auth/login", `{"email":"ALICE@example.com","password":"`+testPassword+`"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	user, _ := decodeMap(t, rr)["user"].(map[string]any)
	if v, ok := user["avatarUrl"]; !ok || v != nil {
		t.Fatalf("expected avatarUrl null, got %v (present=%v)", v, ok)
	}

	expectError(t, env.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"Wrong1!pass"}`, ""), http.StatusBadRequest, "Invalid email or password")
	expectError(t, env.do(http.MethodPost, "/auth/login", `{"email":"ghost@example.com","password":"x"}`, ""), http.StatusBadRequest, "Invalid email or password")
	expectError(t, env.do(http.MethodPost, "/auth/login", `{"email":"","password":""}`, ""), http.StatusBadRequest, "Please fill all fields")
	expectError(t, env.do(http.MethodPost, "/auth/login", `{"email":true,"password":"x"}`, ""), http.StatusBadRequest, "Invalid field types")

	me := env.do(http.MethodGet, "/auth/me", "", alice.Token)
	if me.Code != http.StatusOK {
		t.Fatalf("me: %d %s", me.Code, me.Body.String())
	}
	profile := decodeMap(t, me)
	if profile["email"] != "alice@example.com" || profile["uniqueId"] != alice.UniqueID {
		t.Fatalf("unexpected profile %v", profile)
	}

	expectError(t, env.do(http.MethodGet, "/auth/me", "", ""), http.StatusUnauthorized, "Unauthorized")
	expectError(t, env.do(http.MethodGet, "/auth/me", "", "not-a-jwt"), http.StatusUnauthorized, "Unauthorized")

	env.store.mu.Lock()
	delete(env.store.users, alice.ID)
	env.store.mu.Unlock()
	expectError(t, env.do(http.MethodGet, "/auth/me", "", alice.Token), http.StatusNotFound, "User not found")
}

func TestRegisterAndLoginWithPasswordOverBcryptLimit(t *testing.T) {
	env := newTestEnv(t, false)
	long := "Aa1!" + strings.Repeat("x", 80)

	rr := env.do(http.MethodPost, "/auth/register", `{"email":"long@example.com","password":"`+long+`","username":"long"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	login := env.do(http.MethodPost, "/auth/login", `{"email":"long@example.com","password":"`+long+`"}`, "")
	if login.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", login.Code, login.Body.String())
	}
	if token, _ := decodeMap(t, login)["token"].(string); token == "" {
		t.Fatalf("expected token after login")
	}
}

func TestDebugRoutesHiddenInProduction(t *testing.T) {
	prod := newTestEnv(t, true)
	expectError(t, prod.do(http.MethodGet, "/debug/gemini", "", ""), http.StatusNotFound, "Not found")

	dev := newTestEnv(t, false)
	expectError(t, dev.do(http.MethodGet, "/debug/gemini", "", ""), http.StatusUnauthorized, "Unauthorized")

	user := dev.register(t, "dev@example.com", "dev")
	rr := dev.do(http.MethodGet, "/debug/gemini", "", user.Token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["keyPresent"] != false || payload["message"] != "GEMINI_API_KEY not set in env" {
		t.Fatalf("unexpected debug payload %v", payload)
	}
	expectError(t, dev.do(http.MethodGet, "/debug/other", "", user.Token), http.StatusNotFound, "Not found")
}

func TestErrorHandlerMasksServerErrorsInProduction(t *testing.T) {
	failing := func(http.ResponseWriter, *http.Request) error {
		return errors.New("pq: connection refused at 10.0.0.3")
	}
	for _, tc := range []struct {
		production bool
		want       string
	}{
		{true, "Internal Server Error"},
		{false, "pq: connection refused at 10.0.0.3"},
	} {
		env := newTestEnv(t, tc.production)
		rr := httptest.NewRecorder()
		env.router.handle(failing)(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
		expectError(t, rr, http.StatusInternalServerError, tc.want)
	}

	env := newTestEnv(t, true)
	rr := httptest.NewRecorder()
	env.router.handle(func(http.ResponseWriter, *http.Request) error {
		return errorf(http.StatusTeapot, "client visible")
	})(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	expectError(t, rr, http.StatusTeapot, "client visible")
}

func TestRecovererReturnsServerError(t *testing.T) {
	env := newTestEnv(t, true)
	rr := httptest.NewRecorder()
	env.router.recoverer(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	expectError(t, rr, http.StatusInternalServerError, "Internal Server Error")
}

func TestUnknownRouteUsesErrorBody(t *testing.T) {
	env := newTestEnv(t, false)
	expectError(t, env.do(http.MethodGet, "/nope", "", ""), http.StatusNotFound, "Not found")
}

func TestRateLimitedRegister(t *testing.T) {
	env := newTestEnv(t, false)
	reset := time.Unix(1_950_000_000, 0)
	env.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, remaining: 0, reset: reset}
	}

	rr := env.do(http.MethodPost, "/auth/register", `{}`, "")
	expectError(t, rr, http.StatusTooManyRequests, "rate limit exceeded")
	if got := rr.Header().Get("X-RateLimit-Limit"); got != strconv.Itoa(rateLimitSignup) {
		t.Fatalf("unexpected limit header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
	env.limiter.mu.Lock()
	defer env.limiter.mu.Unlock()
	if len(env.limiter.calls) != 1 || !strings.HasPrefix(env.limiter.calls[0].key, "ip:") {
		t.Fatalf("expected one ip-keyed limiter call, got %+v", env.limiter.calls)
	}
}

func TestLoginAndRegisterCountedSeparately(t *testing.T) {
	env := newTestEnv(t, false)
	limiter := NewMemoryRateLimiter()
	t.Cleanup(limiter.Close)
	env.router.limiter = limiter

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.1:40000"
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < rateLimitSignup; i++ {
		rr := post("/auth/login", `{"email":"ghost@example.com","password":"nope"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("login %d: expected 400, got %d", i+1, rr.Code)
		}
	}

	rr := post("/auth/register", `{"email":"fresh@example.com","password":"`+testPassword+`","username":"fresh"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("register after failed logins: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(rateLimitSignup-1) {
		t.Fatalf("register should start its own window, remaining %q", got)
	}

	for i := 1; i < rateLimitSignup; i++ {
		post("/auth/register", `{}`)
	}
	expectError(t, post("/auth/register", `{}`), http.StatusTooManyRequests, "rate limit exceeded")

	login := post("/auth/login", `{"email":"ghost@example.com","password":"nope"}`)
	if login.Code != http.StatusBadRequest {
		t.Fatalf("login budget must be unaffected by register, got %d", login.Code)
	}
}

func TestUserRateUsesMethodBudget(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")
	env.limiter.mu.Lock()
	env.limiter.calls = nil
	env.limiter.mu.Unlock()

	env.do(http.MethodGet, "/friends", "", alice.Token)
	env.do(http.MethodPost, "/friends/invite", "", alice.Token)

	env.limiter.mu.Lock()
	defer env.limiter.mu.Unlock()
	if len(env.limiter.calls) != 2 {
		t.Fatalf("expected 2 limiter calls, got %d", len(env.limiter.calls))
	}
	if env.limiter.calls[0].limit != rateLimitUserRead || env.limiter.calls[1].limit != rateLimitUserWrite {
		t.Fatalf("unexpected limits %+v", env.limiter.calls)
	}
	id := strconv.FormatInt(alice.ID, 10)
	if env.limiter.calls[0].key != "user:"+id+":read" || env.limiter.calls[1].key != "user:"+id+":write" {
		t.Fatalf("unexpected keys %+v", env.limiter.calls)
	}
}

func TestFriendInviteAndRequests(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")
	bob := env.register(t, "bob@example.com", "bob")
	carol := env.register(t, "carol@example.com", "carol")

	rr := env.do(http.MethodPost, "/friends/invite", "", alice.Token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("invite: %d %s", rr.Code, rr.Body.String())
	}
	issued := decodeMap(t, rr)
	link, _ := issued["link"].(string)
	if !strings.HasPrefix(link, "splitter://invite/friend/") {
		t.Fatalf("unexpected link %q", link)
	}

	expectError(t, env.do(http.MethodPost, "/friends/join", `{"token":"`+issued["token"].(string)+`"}`, alice.Token), http.StatusBadRequest, "Cannot add yourself")

	redeem := env.do(http.MethodPost, "/invites/redeem", `{"data":"`+link+`"}`, bob.Token)
	if redeem.Code != http.StatusOK {
		t.Fatalf("redeem: %d %s", redeem.Code, redeem.Body.String())
	}
	result := decodeMap(t, redeem)
	if result["kind"] != "friend" || result["action"] != friend.ActionAccepted {
		t.Fatalf("unexpected redeem result %v", result)
	}

	list := env.do(http.MethodGet, "/friends", "", bob.Token)
	var friends []domain.PublicUser
	if err := json.Unmarshal(list.Body.Bytes(), &friends); err != nil {
		t.Fatalf("decode friends: %v", err)
	}
	if len(friends) != 1 || friends[0].ID != alice.ID {
		t.Fatalf("unexpected friends %+v", friends)
	}

	expectError(t, env.do(http.MethodPost, "/invites/redeem", `{"data":"https://example.com/nothing"}`, bob.Token), http.StatusBadRequest, "Unrecognized invite code")

	shortID := strings.ToLower(strings.TrimPrefix(alice.UniqueID, "#"))
	sent := env.do(http.MethodPost, "/friends/requests", `{"uniqueId":"`+shortID+`"}`, carol.Token)
	if sent.Code != http.StatusCreated {
		t.Fatalf("send request: %d %s", sent.Code, sent.Body.String())
	}
	expectError(t, env.do(http.MethodPost, "/friends/requests", `{"uniqueId":"`+shortID+`"}`, carol.Token), http.StatusConflict, "Friend request already pending")

	incoming := env.do(http.MethodGet, "/friends/requests", "", alice.Token)
	var requests []domain.FriendRequest
	if err := json.Unmarshal(incoming.Body.Bytes(), &requests); err != nil {
		t.Fatalf("decode requests: %v", err)
	}
	if len(requests) != 1 || requests[0].FromUserID != carol.ID {
		t.Fatalf("unexpected incoming %+v", requests)
	}
	path := "/friends/requests/" + strconv.FormatInt(requests[0].ID, 10)
	expectError(t, env.do(http.MethodPost, path+"/accept", "", carol.Token), http.StatusNotFound, "Friend request not found")
	accepted := env.do(http.MethodPost, path+"/accept", "", alice.Token)
	if accepted.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", accepted.Code, accepted.Body.String())
	}

	removePath := "/friends/" + strconv.FormatInt(carol.ID, 10)
	removed := env.do(http.MethodDelete, removePath, "", alice.Token)
	if removed.Code != http.StatusOK {
		t.Fatalf("remove: %d %s", removed.Code, removed.Body.String())
	}
	expectError(t, env.do(http.MethodDelete, removePath, "", alice.Token), http.StatusNotFound, "Friend not found")
}

func TestGroupLifecycleWithExpenses(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")
	bob := env.register(t, "bob@example.com", "bob")
	carol := env.register(t, "carol@example.com", "carol")

	expectError(t, env.do(http.MethodPost, "/groups", `{"name":"  "}`, alice.Token), http.StatusBadRequest, "group name is required")

	created := env.do(http.MethodPost, "/groups", `{"name":" Trip "}`, alice.Token)
	if created.Code != http.StatusCreated {
		t.Fatalf("create group: %d %s", created.Code, created.Body.String())
	}
	var g domain.Group
	if err := json.Unmarshal(created.Body.Bytes(), &g); err != nil {
		t.Fatalf("decode group: %v", err)
	}
	base := "/groups/" + strconv.FormatInt(g.ID, 10)

	invited := env.do(http.MethodPost, base+"/invite", "", alice.Token)
	if invited.Code != http.StatusCreated {
		t.Fatalf("group invite: %d %s", invited.Code, invited.Body.String())
	}
	token, _ := decodeMap(t, invited)["token"].(string)

	joined := env.do(http.MethodPost, "/invites/redeem", `{"data":"group:`+token+`"}`, bob.Token)
	if joined.Code != http.StatusOK {
		t.Fatalf("join: %d %s", joined.Code, joined.Body.String())
	}
	if res := decodeMap(t, joined); res["member"] != group.MemberJoined || res["kind"] != "group" {
		t.Fatalf("unexpected join result %v", res)
	}
	again := env.do(http.MethodPost, "/groups/join", `{"token":"`+token+`"}`, bob.Token)
	if res := decodeMap(t, again); res["member"] != group.MemberAlready {
		t.Fatalf("expected already_member, got %v", res)
	}

	expectError(t, env.do(http.MethodGet, base, "", carol.Token), http.StatusNotFound, "Group not found")
	details := env.do(http.MethodGet, base, "", bob.Token)
	var view struct {
		Group   domain.Group         `json:"group"`
		Members []domain.GroupMember `json:"members"`
	}
	if err := json.Unmarshal(details.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if view.Group.Name != "Trip" || len(view.Members) != 2 {
		t.Fatalf("unexpected details %+v", view)
	}

	spent := env.do(http.MethodPost, base+"/expenses", `{"description":"Dinner","amountCents":1001}`, alice.Token)
	if spent.Code != http.StatusCreated {
		t.Fatalf("expense: %d %s", spent.Code, spent.Body.String())
	}
	expectError(t, env.do(http.MethodPost, base+"/expenses", `{"description":"Taxi","amountCents":-5}`, alice.Token), http.StatusBadRequest, "amountCents must be a positive integer")

	listed := env.do(http.MethodGet, base+"/expenses", "", bob.Token)
	var expenses []domain.Expense
	if err := json.Unmarshal(listed.Body.Bytes(), &expenses); err != nil {
		t.Fatalf("decode expenses: %v", err)
	}
	if len(expenses) != 1 || len(expenses[0].Shares) != 2 || expenses[0].Shares[0].AmountCents != 501 {
		t.Fatalf("unexpected expenses %+v", expenses)
	}

	balances := env.do(http.MethodGet, base+"/balances", "", alice.Token)
	var summary expense.Summary
	if err := json.Unmarshal(balances.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode balances: %v", err)
	}
	want := []domain.Settlement{{From: bob.ID, To: alice.ID, AmountCents: 500}}
	if len(summary.Settlements) != 1 || summary.Settlements[0] != want[0] {
		t.Fatalf("unexpected settlements %+v", summary.Settlements)
	}

	expectError(t, env.do(http.MethodPost, base+"/leave", "", alice.Token), http.StatusBadRequest, "Owner cannot leave the group")
	left := env.do(http.MethodPost, base+"/leave", "", bob.Token)
	if left.Code != http.StatusOK {
		t.Fatalf("leave: %d %s", left.Code, left.Body.String())
	}
}

func TestAvatarUploadWithoutStorage(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")

	req := httptest.NewRequest(http.MethodPut, "/users/me/avatar", bytes.NewReader([]byte("png")))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	expectError(t, rr, http.StatusServiceUnavailable, "Avatar storage not configured")
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t, false)
	env.router.dbHealth = func(context.Context) error { return errors.New("dial tcp: refused") }

	rr := env.do(http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	if payload["status"] != "degraded" {
		t.Fatalf("unexpected status %v", payload["status"])
	}

	env.router.dbHealth = func(context.Context) error { return nil }
	if rr := env.do(http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(http.MethodGet, "/healthz", "", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestEventsWebsocketDeliversNotifications(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+alice.Token)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected handshake status %d", resp.StatusCode)
	}

	waitFor(t, 2*time.Second, func() bool { return env.hub.Connections() == 1 })
	env.hub.Notify(alice.ID, domain.Event{Type: domain.EventFriendRequest, Payload: map[string]int{"id": 9}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event domain.Event
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != domain.EventFriendRequest {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestEventsSSEStreamsNotifications(t *testing.T) {
	env := newTestEnv(t, false)
	alice := env.register(t, "alice@example.com", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+alice.Token)

	recorder := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		env.router.ServeHTTP(recorder, req)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return env.hub.Connections() == 1 })
	env.hub.Notify(alice.ID, domain.Event{Type: domain.EventGroupJoined, Payload: map[string]int{"group": 1}})
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(recorder.body(), "event: group.joined\ndata: ")
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not exit after context cancel")
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if recorder.flushCount() == 0 {
		t.Fatalf("expected flushes")
	}
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.allowFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, remaining: limit - 1, reset: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}

type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
	flush  int
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (s *streamRecorder) Header() http.Header {
	return s.header
}

func (s *streamRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.buf.Write(b)
}

func (s *streamRecorder) WriteHeader(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *streamRecorder) Flush() {
	s.mu.Lock()
	s.flush++
	s.mu.Unlock()
}

func (s *streamRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *streamRecorder) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

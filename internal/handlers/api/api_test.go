package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/khanghh/kguard/internal/audit"
	"github.com/khanghh/kguard/internal/auth"
	"github.com/khanghh/kguard/internal/challenge"
	"github.com/khanghh/kguard/internal/credential"
	"github.com/khanghh/kguard/internal/honeytrap"
	"github.com/khanghh/kguard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

type testServer struct {
	app   *fiber.App
	chain *audit.Chain
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	storage := store.NewMemoryStorage()
	chain := audit.NewChain(audit.NewMemoryRepository(), "test")

	grid, err := challenge.NewGridService(storage, testMasterKey, challenge.GridConfig{
		Size: 16, TargetCount: 1, HoneytrapCount: 2, ChallengeTTL: 10 * time.Minute,
	})
	require.NoError(t, err)
	monitor := honeytrap.NewMonitor(storage, chain, honeytrap.MonitorConfig{
		DecoyCount: 5, TTL: 10 * time.Minute, MinElapsed: 2 * time.Second, MaxElapsed: 30 * time.Second,
	})
	verifier := challenge.NewVerifier(storage, monitor, chain)
	key, err := credential.GenerateKey()
	require.NoError(t, err)
	keyring, err := credential.NewKeyring(key)
	require.NoError(t, err)
	issuer, err := credential.NewIssuer(keyring, storage, chain, credential.IssuerConfig{
		Issuer: "kguard", Audience: "banking_partner",
		AccessTTL: time.Minute, RefreshTTL: time.Hour, RegistryGrace: time.Minute,
	})
	require.NoError(t, err)

	var (
		challengeHandler  = NewChallengeHandler(auth.NewAuthorizeService(grid, monitor, verifier, issuer), monitor)
		credentialHandler = NewCredentialHandler(issuer)
		auditHandler      = NewAuditHandler(chain)
	)
	app := fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal})
	router := app.Group("/api")
	router.Post("/challenges", challengeHandler.PostChallenge)
	router.Post("/challenges/:id/verify", challengeHandler.PostVerify)
	router.Post("/challenges/:id/decoys/:decoyId", challengeHandler.PostDecoyBeacon)
	router.Post("/credentials/verify", credentialHandler.PostVerify)
	router.Post("/credentials/refresh", credentialHandler.PostRefresh)
	router.Get("/credentials/keys", credentialHandler.GetPublicKeys)
	router.Post("/credentials/:jti/revoke", credentialHandler.PostRevoke)
	router.Get("/credentials/:jti", credentialHandler.GetStatus)
	router.Post("/audit/events", auditHandler.PostEvent)
	router.Get("/audit/verify", auditHandler.GetVerify)
	router.Get("/audit/export", auditHandler.GetExport)
	router.Get("/audit", auditHandler.GetEntries)
	return &testServer{app: app, chain: chain}
}

type envelope[T any] struct {
	APIVersion string        `json:"apiVersion"`
	Data       T             `json:"data"`
	Error      *APIErrorInfo `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) envelope[T] {
	t.Helper()
	defer resp.Body.Close()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

type sessionView struct {
	ChallengeID string               `json:"challengeId"`
	Cells       []challenge.CellView `json:"cells"`
	DecoyIDs    []string             `json:"decoyIds"`
}

type completeView struct {
	Verification challenge.VerifyResult       `json:"verification"`
	Signals      honeytrap.Evaluation         `json:"signals"`
	Access       *credential.IssuedCredential `json:"access"`
	Refresh      *credential.IssuedCredential `json:"refresh"`
}

func (s *testServer) beginChallenge(t *testing.T) sessionView {
	resp := s.do(t, http.MethodPost, "/api/challenges", fiber.Map{"ownerHint": "alice", "targetIcon": "lock"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return decode[sessionView](t, resp).Data
}

func targetCells(session sessionView) []int {
	var ret []int
	for _, cell := range session.Cells {
		if cell.Icon == "lock" {
			ret = append(ret, cell.Position)
		}
	}
	return ret
}

func TestChallengeFlow(t *testing.T) {
	s := newTestServer(t)
	session := s.beginChallenge(t)
	require.Len(t, session.Cells, 16)
	require.Len(t, session.DecoyIDs, 5)

	path := fmt.Sprintf("/api/challenges/%s/verify", session.ChallengeID)
	resp := s.do(t, http.MethodPost, path, fiber.Map{"selected": targetCells(session), "elapsedMs": 4200})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode[completeView](t, resp).Data
	assert.True(t, result.Verification.IsValid)
	require.NotNil(t, result.Access)
	require.NotNil(t, result.Refresh)

	resp = s.do(t, http.MethodPost, path, fiber.Map{"selected": targetCells(session), "elapsedMs": 4200})
	again := decode[completeView](t, resp).Data
	assert.Equal(t, challenge.ReasonExpiredOrConsumed, again.Verification.Reason)

	// access credential: one success, then a replay
	resp = s.do(t, http.MethodPost, "/api/credentials/verify", fiber.Map{"token": result.Access.Token})
	assert.True(t, decode[credential.VerifyResult](t, resp).Data.Valid)
	resp = s.do(t, http.MethodPost, "/api/credentials/verify", fiber.Map{"token": result.Access.Token})
	replay := decode[credential.VerifyResult](t, resp).Data
	assert.Equal(t, credential.ReasonAlreadyUsed, replay.Reason)
	assert.True(t, replay.SuspiciousReplay)

	resp = s.do(t, http.MethodGet, "/api/credentials/"+result.Access.CredentialID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, decode[credential.Record](t, resp).Data.Used)

	resp = s.do(t, http.MethodPost, "/api/credentials/refresh", fiber.Map{"refreshToken": result.Refresh.Token})
	rotated := decode[credential.RedeemResult](t, resp).Data
	assert.True(t, rotated.Valid)
	require.NotNil(t, rotated.Access)

	resp = s.do(t, http.MethodPost, "/api/credentials/"+rotated.Access.CredentialID+"/revoke", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/credentials/verify", fiber.Map{"token": rotated.Access.Token})
	assert.Equal(t, credential.ReasonRevoked, decode[credential.VerifyResult](t, resp).Data.Reason)
}

func TestDecoyBeacon(t *testing.T) {
	s := newTestServer(t)
	session := s.beginChallenge(t)

	resp := s.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%s/decoys/%s", session.ChallengeID, session.DecoyIDs[0]), nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%s/decoys/nope", session.ChallengeID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/challenges/%s/verify", session.ChallengeID),
		fiber.Map{"selected": targetCells(session), "elapsedMs": 4200})
	result := decode[completeView](t, resp).Data
	assert.False(t, result.Verification.IsValid)
	assert.Equal(t, challenge.ReasonHoneytrapTriggered, result.Verification.Reason)
	assert.Nil(t, result.Access)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/challenges", fiber.Map{"targetIcon": "lock"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	env := decode[any](t, resp)
	require.NotNil(t, env.Error)
	require.NotEmpty(t, env.Error.Errors)
	assert.Equal(t, "OwnerHint", env.Error.Errors[0].Domain)

	resp = s.do(t, http.MethodPost, "/api/challenges", fiber.Map{"ownerHint": "alice", "targetIcon": "unicorn"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/credentials/verify", fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/credentials/"+uuid.NewString(), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestMalformedIDs(t *testing.T) {
	s := newTestServer(t)
	longID := strings.Repeat("a", 250)
	verifyBody := fiber.Map{"selected": []int{1}, "elapsedMs": 100}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"verify long id", http.MethodPost, "/api/challenges/" + longID + "/verify", verifyBody},
		{"verify too fast long id", http.MethodPost, "/api/challenges/" + strings.Repeat("b", 120) + "/verify", verifyBody},
		{"decoy beacon", http.MethodPost, "/api/challenges/" + longID + "/decoys/" + uuid.NewString(), nil},
		{"revoke", http.MethodPost, "/api/credentials/" + longID + "/revoke", nil},
		{"status", http.MethodGet, "/api/credentials/unknown", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			env := decode[any](t, resp)
			require.NotNil(t, env.Error)
		})
	}

	// well formed but unknown ids keep their normal outcomes
	resp := s.do(t, http.MethodPost, "/api/challenges/"+uuid.NewString()+"/verify", verifyBody)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode[completeView](t, resp).Data
	assert.Equal(t, challenge.ReasonExpiredOrConsumed, result.Verification.Reason)
	assert.Nil(t, result.Access)

	resp = s.do(t, http.MethodPost, "/api/credentials/"+uuid.NewString()+"/revoke", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	entries, err := s.chain.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Resource, longID)
	}
}

func TestPublicKeys(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/credentials/keys", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	keys := decode[map[string][]credential.PublicKey](t, resp).Data["keys"]
	require.Len(t, keys, 1)
	assert.Equal(t, "EdDSA", keys[0].Algorithm)
	assert.True(t, keys[0].Active)
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t)

	var ids []string
	for i := 0; i < 5; i++ {
		resp := s.do(t, http.MethodPost, "/api/audit/events", fiber.Map{
			"actor": "partner", "action": "failed_auth", "resource": "login", "status": "failed",
			"details": fiber.Map{"attempt": i},
		})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
		entry := decode[map[string]any](t, resp).Data
		assert.Equal(t, audit.SeverityHigh, entry["severity"])
		ids = append(ids, entry["id"].(string))
	}

	resp := s.do(t, http.MethodPost, "/api/audit/events", fiber.Map{"actor": "partner", "action": "x", "status": "maybe"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/audit/verify?start=%s&end=%s", ids[0], ids[4]), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode[audit.VerifyResult](t, resp).Data
	assert.True(t, result.IsValid)
	assert.Equal(t, 5, result.EntriesVerified)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/audit/verify?start=%s&end=%s", ids[4], ids[0]), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/audit/verify?start=%s&end=1", ids[0]), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/audit/verify?start=abc&end=1", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/audit?actor=partner&limit=2", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decode[map[string]any](t, resp).Data["count"])

	resp = s.do(t, http.MethodGet, "/api/audit/export?format=csv", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "5", resp.Header.Get("X-Export-Count"))
	assert.Len(t, resp.Header.Get("X-Integrity-Hash"), 64)

	resp = s.do(t, http.MethodGet, "/api/audit/export?format=xml", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

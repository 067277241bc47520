/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Bearer authentication and actor resolution
- Grant request, verify, approve and delete over HTTP
- Redemption failures rendered as {"message": ...}
- Status mapping of each error code
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testSecret = "test-secret-0123456789"

type testServer struct {
	t       *testing.T
	handler http.Handler
	tokens  *Tokens
	engine  *ledger.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	tokens := NewTokens(testSecret, "merit-ledger", time.Hour)
	h := NewHandler(engine, tokens, mem)

	require.NoError(t, LoadScenario(context.Background(), engine, mem, "unit"))

	return &testServer{
		t:       t,
		handler: NewRouter(h, RouterOptions{}),
		tokens:  tokens,
		engine:  engine,
	}
}

// do sends a request as the given person ("" for anonymous).
func (s *testServer) do(method, path string, as ledger.PersonID, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, err := s.tokens.Issue(as)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	out := decode[ledger.Outcome](t, rec)
	require.NotNil(t, out.Message, rec.Body.String())
	return *out.Message
}

func (s *testServer) requestOvertime(as ledger.PersonID, minutes int64) GrantDTO {
	s.t.Helper()
	rec := s.do("POST", "/api/overtime/grants", as, map[string]any{
		"giver": "C-1001", "approver": "C-1002", "value": minutes, "reason": "Weekend guard shift",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[GrantDTO](s.t, rec)
}

func (s *testServer) decide(path string, as ledger.PersonID, accept bool, reason string) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do("POST", path, as, DecisionRequest{Accept: accept, Reason: reason})
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_MissingToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/me", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "please log in again", message(t, rec))
}

func TestAuth_UnknownSubject(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/me", "E-9999", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "please log in again", message(t, rec))
}

func TestAuth_ExpiredAndForeignTokens(t *testing.T) {
	s := newTestServer(t)

	expired, err := s.tokens.IssueFor("E-2001", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewTokens("another-secret-0123456789", "merit-ledger", time.Hour).Issue("E-2001")
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "foreign": foreign} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/me", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_SoftDeletedPerson(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	p, err := s.engine.Store().GetPerson(ctx, "E-2002")
	require.NoError(t, err)
	now := time.Now()
	p.DeletedAt = &now
	require.NoError(t, s.engine.Store().(ledger.DirectoryStore).SavePerson(ctx, *p))

	rec := s.do("GET", "/api/me", "E-2002", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/me", "C-1002", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[PersonDTO](t, rec)
	assert.Equal(t, "C-1002", me.ID)
	assert.Equal(t, "cadre", me.Role)
	assert.Contains(t, me.Permissions, "Approver")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// POINTS
// =============================================================================

func TestPoints_RequestVerifyIncreasesBalance(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: an enlisted request for 5 points
	rec := s.do("POST", "/api/points/grants", "E-2001", map[string]any{
		"giver": "C-1001", "value": 5, "reason": "Kitchen duty",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	grant := decode[GrantDTO](t, rec)
	assert.Equal(t, "pending", grant.State)
	assert.False(t, grant.Effective)

	// The giver sees it in their queue
	rec = s.do("GET", "/api/points/grants/pending", "C-1001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]GrantDTO](t, rec), 1)

	// WHEN: the giver verifies
	rec = s.decide("/api/points/grants/"+grant.ID+"/verify", "C-1001", true, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	grant = decode[GrantDTO](t, rec)

	// THEN: the grant is effective and the balance moved by exactly 5
	assert.Equal(t, "verified", grant.State)
	assert.True(t, grant.Effective)
	assert.NotNil(t, grant.VerifiedAt)

	rec = s.do("GET", "/api/persons/E-2001/points/summary", "E-2001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[SummaryDTO](t, rec)
	assert.Equal(t, int64(5), sum.Merit)
	assert.Equal(t, int64(5), sum.Available)
	assert.Nil(t, sum.AvailableHours)

	rec = s.do("GET", "/api/me", "E-2001", nil)
	assert.Equal(t, int64(5), decode[PersonDTO](t, rec).Points)
}

func TestPoints_CadreIssueIsEffectiveImmediately(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/grants", "C-1002", map[string]any{
		"receiver": "E-2002", "value": -2, "reason": "Late to formation",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	grant := decode[GrantDTO](t, rec)
	assert.Equal(t, "verified", grant.State)
	assert.Equal(t, "C-1002", grant.Giver)

	rec = s.do("GET", "/api/persons/E-2002/points/summary", "C-1001", nil)
	sum := decode[SummaryDTO](t, rec)
	assert.Equal(t, int64(-2), sum.Demerit)
	assert.Equal(t, int64(-2), sum.Available)
}

func TestPoints_ValueMustBeAnInteger(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/grants", "E-2001", `{"giver":"C-1001","value":2.5,"reason":"Kitchen duty"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "value must be an integer", message(t, rec))

	rec = s.do("POST", "/api/points/grants", "E-2001", `{"giver":"C-1001","value":2.0,"reason":"Kitchen duty"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestPoints_ValidationMessages(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		body    map[string]any
		status  int
		message string
	}{
		{"blank reason", map[string]any{"giver": "C-1001", "value": 5, "reason": "  "}, http.StatusBadRequest, "please enter a reason for the point grant"},
		{"zero value", map[string]any{"giver": "C-1001", "value": 0, "reason": "x"}, http.StatusBadRequest, "value must be at least 1 or at most -1"},
		{"unknown giver", map[string]any{"giver": "C-4040", "value": 5, "reason": "x"}, http.StatusNotFound, "the giver does not exist"},
		{"enlisted giver", map[string]any{"giver": "E-2002", "value": 5, "reason": "x"}, http.StatusBadRequest, "the giver must be a cadre member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do("POST", "/api/points/grants", "E-2001", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, message(t, rec))
		})
	}
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/grants", "E-2001", `{"giver":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", message(t, rec))
}

func TestUnknownKind(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/vacation/grants", "E-2001", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(message(t, rec), "unknown ledger kind"))
}

// =============================================================================
// OVERTIME
// =============================================================================

func TestOvertime_TwoStepChain(t *testing.T) {
	s := newTestServer(t)
	grant := s.requestOvertime("E-2001", 120)
	path := "/api/overtime/grants/" + grant.ID

	// Approving before verification is an invalid state
	rec := s.decide(path+"/approve", "C-1002", true, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "this overtime must be verified before approval", message(t, rec))

	rec = s.decide(path+"/verify", "C-1001", true, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[GrantDTO](t, rec).Effective)

	// Verified overtime does not count yet
	rec = s.do("GET", "/api/persons/E-2001/overtime/summary", "E-2001", nil)
	assert.Equal(t, int64(0), decode[SummaryDTO](t, rec).Available)

	rec = s.do("GET", "/api/overtime/grants/awaiting-approval", "C-1002", nil)
	assert.Len(t, decode[[]GrantDTO](t, rec), 1)

	rec = s.decide(path+"/approve", "C-1002", true, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[GrantDTO](t, rec)
	assert.Equal(t, "approved", approved.State)
	assert.Equal(t, "2", approved.Hours.String())

	rec = s.do("GET", "/api/persons/E-2001/overtime/summary", "E-2001", nil)
	sum := decode[SummaryDTO](t, rec)
	assert.Equal(t, int64(120), sum.Available)
	require.NotNil(t, sum.AvailableHours)
	assert.Equal(t, "2", sum.AvailableHours.String())

	// Terminal: no further decision
	rec = s.decide(path+"/approve", "C-1002", false, "changed my mind")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOvertime_DisapproveNeedsReason(t *testing.T) {
	s := newTestServer(t)
	grant := s.requestOvertime("E-2001", 60)
	path := "/api/overtime/grants/" + grant.ID
	require.Equal(t, http.StatusOK, s.decide(path+"/verify", "C-1001", true, "").Code)

	rec := s.decide(path+"/approve", "C-1002", false, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "please enter a reason for the rejection", message(t, rec))

	rec = s.decide(path+"/approve", "C-1002", false, "Part of regular duty")
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[GrantDTO](t, rec)
	assert.Equal(t, "disapproved", g.State)
	assert.Equal(t, "Part of regular duty", g.DisapprovedReason)
}

func TestOvertime_WrongPartyIsForbidden(t *testing.T) {
	s := newTestServer(t)
	grant := s.requestOvertime("E-2001", 60)

	rec := s.decide("/api/overtime/grants/"+grant.ID+"/verify", "C-1002", true, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only the assigned giver can verify this overtime", message(t, rec))
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

func TestRedeem_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: 120 approved minutes
	grant := s.requestOvertime("E-2001", 120)
	path := "/api/overtime/grants/" + grant.ID
	require.Equal(t, http.StatusOK, s.decide(path+"/verify", "C-1001", true, "").Code)
	require.Equal(t, http.StatusOK, s.decide(path+"/approve", "C-1002", true, "").Code)

	// WHEN: an admin redeems 200
	rec := s.do("POST", "/api/overtime/redemptions", "C-1003", map[string]any{
		"target": "E-2001", "value": 200, "reason": "Long weekend",
	})

	// THEN: rejected and nothing recorded
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "not enough minutes available", message(t, rec))

	rec = s.do("GET", "/api/overtime/redemptions?person=E-2001", "C-1003", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]RedemptionDTO](t, rec))

	// A redemption within the balance succeeds
	rec = s.do("POST", "/api/overtime/redemptions", "C-1003", map[string]any{
		"target": "E-2001", "value": 90, "reason": "Early release",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do("GET", "/api/overtime/redemptions", "E-2001", nil)
	rs := decode[[]RedemptionDTO](t, rec)
	require.Len(t, rs, 1)
	assert.Equal(t, "C-1003", rs[0].RecordedBy)

	rec = s.do("GET", "/api/me", "E-2001", nil)
	assert.Equal(t, int64(30), decode[PersonDTO](t, rec).Overtime)
}

func TestRedeem_PermissionRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/redemptions", "C-1001", map[string]any{
		"target": "E-2001", "value": 1, "reason": "Pass",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("POST", "/api/points/redemptions", "E-2001", map[string]any{
		"target": "E-2001", "value": 1, "reason": "Pass",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// DELETE AND READ ACCESS
// =============================================================================

func TestDeleteGrant_VerifiedIsRefused(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/grants", "E-2001", map[string]any{
		"giver": "C-1001", "value": 5, "reason": "Kitchen duty",
	})
	grant := decode[GrantDTO](t, rec)
	path := "/api/points/grants/" + grant.ID
	require.Equal(t, http.StatusOK, s.decide(path+"/verify", "C-1001", true, "").Code)

	rec = s.do("DELETE", path, "E-2001", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "a point grant that has already been verified cannot be deleted", message(t, rec))

	rec = s.do("GET", path, "E-2001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "verified", decode[GrantDTO](t, rec).State)
}

func TestDeleteGrant_PendingByReceiver(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/grants", "E-2001", map[string]any{
		"giver": "C-1001", "value": 5, "reason": "Kitchen duty",
	})
	path := "/api/points/grants/" + decode[GrantDTO](t, rec).ID

	rec = s.do("DELETE", path, "E-2002", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("DELETE", path, "E-2001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[ledger.Outcome](t, rec).Message)

	rec = s.do("GET", path, "E-2001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGrant_HiddenFromNonParties(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/points/grants", "E-2001", map[string]any{
		"giver": "C-1001", "value": 5, "reason": "Kitchen duty",
	})
	path := "/api/points/grants/" + decode[GrantDTO](t, rec).ID

	assert.Equal(t, http.StatusOK, s.do("GET", path, "C-1001", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do("GET", path, "E-2002", nil).Code)
}

func TestSummary_EnlistedOnlyOwn(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/persons/E-2002/points/summary", "E-2001", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCounts(t *testing.T) {
	s := newTestServer(t)
	a := s.requestOvertime("E-2001", 60)
	s.requestOvertime("E-2001", 30)
	require.Equal(t, http.StatusOK, s.decide("/api/overtime/grants/"+a.ID+"/verify", "C-1001", true, "").Code)

	rec := s.do("GET", "/api/overtime/grants/counts", "E-2001", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[ledger.Counts](t, rec)
	assert.Equal(t, 1, c.Pending)
	assert.Equal(t, 1, c.NeedApprove)
	assert.Equal(t, 0, c.Effective)
}

func TestTemplates(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/templates", "E-2001", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	ts := decode[[]TemplateDTO](t, rec)
	require.Len(t, ts, 4)
	assert.Equal(t, "Kitchen duty", ts[0].Reason)
}

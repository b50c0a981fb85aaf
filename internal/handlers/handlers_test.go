package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certinv/internal/auth"
	"certinv/internal/cache"
	"certinv/internal/certs"
	"certinv/internal/directory"
	cierrors "certinv/internal/errors"
	"certinv/internal/handlers"
	"certinv/internal/inventory"
	"certinv/internal/metrics"
	"certinv/internal/store/memory"
	"certinv/middleware"
)

const (
	teamID    = "4f7d0f3c-8f58-4b8c-9d36-2c1f6e1f7a10"
	userEmail = "alice@example.com"
)

type testServer struct {
	router    *chi.Mux
	store     *memory.Store
	directory *directory.MockClient
	registry  *prometheus.Registry
}

// asUser marks a request as coming from an authenticated operator.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if email := r.Header.Get("X-Test-User"); email != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{Email: email}))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	_, err := st.CreateTeam(context.Background(), certs.Team{ID: teamID, TeamName: "payments", Applications: certs.EmptyJSONList})
	require.NoError(t, err)

	dir := new(directory.MockClient)
	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)
	listings := cache.New(time.Minute)
	service := inventory.New(st, dir, inventory.MultiNotifier{recorder, handlers.ListingInvalidator(listings)})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(asUser)
	handlers.NewAPI(inventory.NewActions(service), listings, recorder).RegisterRoutes(r)
	return &testServer{router: r, store: st, directory: dir, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

func certificatePayload(identifier string) map[string]any {
	return map[string]any{
		"certificateIdentifier": identifier,
		"renewingTeamId":        teamID,
		"commonName":            identifier + ".example.com",
		"serialNumber":          "SN-" + identifier,
		"devices":               []string{"lb-01"},
	}
}

func TestSearch_RequiresParameters(t *testing.T) {
	s := newTestServer(t)

	rec := s.postForm(t, "/api/certificates/search", url.Values{"isAmexCert": {"on"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"At least one search parameter is required"}`, rec.Body.String())
	s.directory.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearch_LocalForm(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/certificates", userEmail, certificatePayload("api")).Code)

	rec := s.postForm(t, "/api/certificates/search", url.Values{"commonName": {"api.example"}})

	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "api", results[0].(map[string]any)["certificateIdentifier"])
}

func TestSearch_ExternalUpsertsAndReturnsFetched(t *testing.T) {
	s := newTestServer(t)
	fetched := []certs.ExternalRecord{
		{CertificateIdentifier: "ext-1", CommonName: certs.StringPtr("one.example.com"), Devices: []any{"a"}},
		{CertificateIdentifier: "ext-2", CommonName: certs.StringPtr("two.example.com")},
	}
	s.directory.On("Search", mock.Anything, certs.Query{CommonName: "example.com", IsAmexCert: true}).Return(fetched, nil)

	rec := s.postForm(t, "/api/certificates/search", url.Values{"commonName": {"example.com"}, "isAmexCert": {"on"}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode(t, rec)["results"].([]any)
	assert.Len(t, results, 2)

	stored, err := s.store.SearchCertificates(context.Background(), certs.Filter{CommonName: "example.com"})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, certs.UnknownActor, certs.Deref(stored[0].CreatedBy))
	assert.Equal(t, 1.0, counterValue(t, s.registry, "certinv_searches_total", map[string]string{"mode": "external", "outcome": "ok"}))
	s.directory.AssertExpectations(t)
}

func TestSearch_UpstreamFailure(t *testing.T) {
	s := newTestServer(t)
	s.directory.On("Search", mock.Anything, mock.Anything).Return(nil, cierrors.ErrUpstream)

	rec := s.do(t, http.MethodPost, "/api/certificates/search", userEmail, map[string]any{"serialNumber": "SN-9", "isAmexCert": true})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream request failed", decode(t, rec)["error"])
	rows, err := s.store.ListCertificates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSearch_DirectoryNotConfigured(t *testing.T) {
	s := newTestServer(t)
	s.directory.On("Search", mock.Anything, mock.Anything).Return(nil, cierrors.ErrDirectoryNotConfigured)

	rec := s.do(t, http.MethodPost, "/api/certificates/search", "", map[string]any{"commonName": "api", "isAmexCert": true})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "not configured")
}

func TestSearch_InvalidJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/certificates/search", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid JSON")
}

func TestCreate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/certificates", "", certificatePayload("api"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/certificates", userEmail, certificatePayload("api"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payload := decode(t, rec)
	assert.Equal(t, true, payload["success"])
	data := payload["data"].(map[string]any)
	assert.Equal(t, userEmail, data["createdBy"])
	assert.Equal(t, []any{"lb-01"}, data["devices"])

	rec = s.do(t, http.MethodPost, "/api/certificates", userEmail, certificatePayload("api"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload = decode(t, rec)
	assert.Equal(t, "certificateIdentifier", payload["field"])
	assert.Equal(t, "Certificate already exists for this team", payload["error"])
}

func TestCreate_AnonymousWithBrokenBodyIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/certificates", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestList_CachesUntilChange(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/certificates", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/certificates", userEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/certificates", userEmail, nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/certificates", userEmail, certificatePayload("api")).Code)

	rec = s.do(t, http.MethodGet, "/api/certificates", userEmail, nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	data := decode(t, rec)["data"].([]any)
	require.Len(t, data, 1)
	team := data[0].(map[string]any)["renewingTeam"].(map[string]any)
	assert.Equal(t, "payments", team["teamName"])
}

// slowListStore pauses the first listing after it has read the rows, so a
// change can land between the read and the cache write.
type slowListStore struct {
	*memory.Store
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowListStore) ListCertificates(ctx context.Context) ([]certs.CertificateWithTeam, error) {
	rows, err := s.Store.ListCertificates(ctx)
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return rows, err
}

func TestList_ChangeDuringReadIsNotCachedOver(t *testing.T) {
	ctx := context.Background()
	st := &slowListStore{Store: memory.New(), loaded: make(chan struct{}), release: make(chan struct{})}
	_, err := st.CreateTeam(ctx, certs.Team{ID: teamID, TeamName: "payments", Applications: certs.EmptyJSONList})
	require.NoError(t, err)

	listings := cache.New(time.Minute)
	service := inventory.New(st, directory.NewDisabled(), handlers.ListingInvalidator(listings))
	r := chi.NewRouter()
	r.Use(asUser)
	handlers.NewAPI(inventory.NewActions(service), listings, metrics.NewRecorder(prometheus.NewRegistry())).RegisterRoutes(r)

	list := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/certificates", nil)
		req.Header.Set("X-Test-User", userEmail)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	inFlight := make(chan *httptest.ResponseRecorder, 1)
	go func() { inFlight <- list() }()
	<-st.loaded

	_, err = service.Create(ctx, &auth.Identity{Email: userEmail}, certs.CertificateInput{CertificateIdentifier: "cert-1", RenewingTeamID: teamID})
	require.NoError(t, err)
	close(st.release)

	stale := <-inFlight
	require.Equal(t, http.StatusOK, stale.Code)
	assert.NotContains(t, stale.Body.String(), "cert-1")

	rec := list()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Body.String(), "cert-1")
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestServer(t)
	created := decode(t, s.do(t, http.MethodPost, "/api/certificates", userEmail, certificatePayload("api")))
	id := created["data"].(map[string]any)["id"].(string)

	rec := s.do(t, http.MethodPatch, "/api/certificates/"+id, userEmail, map[string]any{"comment": "rotated"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rotated", decode(t, rec)["data"].(map[string]any)["comment"])

	rec = s.do(t, http.MethodPatch, "/api/certificates/00000000-0000-4000-8000-000000000099", userEmail, map[string]any{"comment": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = s.do(t, http.MethodPatch, "/api/certificates/"+id, "", map[string]any{"comment": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/certificates/"+id, userEmail, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/certificates/"+id, userEmail, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTeams(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/teams", userEmail, map[string]any{"teamName": "identity", "applications": []string{"sso"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["data"].(map[string]any)["id"].(string)

	rec = s.do(t, http.MethodPost, "/api/teams", userEmail, map[string]any{"teamName": "identity"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "teamName", decode(t, rec)["field"])

	rec = s.do(t, http.MethodGet, "/api/teams", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	teams := decode(t, rec)["data"].([]any)
	require.Len(t, teams, 2)
	assert.Equal(t, "identity", teams[0].(map[string]any)["teamName"])

	rec = s.do(t, http.MethodGet, "/api/teams/"+id, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/teams/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			got := map[string]string{}
			for _, lp := range m.Label {
				got[lp.GetName()] = lp.GetValue()
			}
			if assert.ObjectsAreEqual(labels, got) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

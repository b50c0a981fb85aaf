package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certinv/internal/auth"
	"certinv/internal/certs"
	"certinv/internal/directory"
	cierrors "certinv/internal/errors"
	"certinv/internal/store"
	"certinv/internal/store/memory"
)

const teamID = "4f7d0f3c-8f58-4b8c-9d36-2c1f6e1f7a10"

var alice = &auth.Identity{Email: "alice@example.com"}

// countingStore records every store call and can fail upserts on demand.
type countingStore struct {
	store.Store
	mu        sync.Mutex
	calls     map[string]int
	upsertErr error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(), calls: make(map[string]int)}
}

func (c *countingStore) count(name string) {
	c.mu.Lock()
	c.calls[name]++
	c.mu.Unlock()
}

func (c *countingStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *countingStore) calledTimes(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *countingStore) SearchCertificates(ctx context.Context, filter certs.Filter) ([]certs.Certificate, error) {
	c.count("SearchCertificates")
	return c.Store.SearchCertificates(ctx, filter)
}

func (c *countingStore) UpsertCertificate(ctx context.Context, cert certs.Certificate) error {
	c.count("UpsertCertificate")
	if c.upsertErr != nil {
		return c.upsertErr
	}
	return c.Store.UpsertCertificate(ctx, cert)
}

func (c *countingStore) InsertCertificate(ctx context.Context, cert certs.Certificate) (certs.Certificate, error) {
	c.count("InsertCertificate")
	return c.Store.InsertCertificate(ctx, cert)
}

func (c *countingStore) UpdateCertificate(ctx context.Context, id string, patch certs.CertificatePatch, updatedAt time.Time) (certs.Certificate, error) {
	c.count("UpdateCertificate")
	return c.Store.UpdateCertificate(ctx, id, patch, updatedAt)
}

func (c *countingStore) DeleteCertificate(ctx context.Context, id string) error {
	c.count("DeleteCertificate")
	return c.Store.DeleteCertificate(ctx, id)
}

func (c *countingStore) ListCertificates(ctx context.Context) ([]certs.CertificateWithTeam, error) {
	c.count("ListCertificates")
	return c.Store.ListCertificates(ctx)
}

// recordingNotifier keeps every change it receives.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recordingNotifier) Notify(_ context.Context, change Change) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

// steppingClock advances one minute per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := current
		current = current.Add(time.Minute)
		return now
	}
}

type fixture struct {
	store     *countingStore
	directory *directory.MockClient
	notifier  *recordingNotifier
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newCountingStore()
	_, err := st.Store.CreateTeam(context.Background(), certs.Team{ID: teamID, TeamName: "payments"})
	require.NoError(t, err)
	ids := 0
	f := &fixture{store: st, directory: &directory.MockClient{}, notifier: &recordingNotifier{}}
	f.service = New(st, f.directory, f.notifier,
		WithClock(steppingClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("00000000-0000-4000-8000-%012d", ids)
		}),
	)
	return f
}

func externalRecord(identifier, commonName string) certs.ExternalRecord {
	return certs.ExternalRecord{
		CertificateIdentifier: identifier,
		CommonName:            certs.StringPtr(commonName),
		SerialNumber:          certs.StringPtr("SN-" + identifier),
	}
}

func validInput(identifier string) certs.CertificateInput {
	return certs.CertificateInput{
		CertificateIdentifier: identifier,
		RenewingTeamID:        teamID,
		CommonName:            certs.StringPtr(identifier + ".example.com"),
	}
}

func TestSearch_RequiresAParameter(t *testing.T) {
	for _, q := range []certs.Query{{}, {CommonName: "   ", SerialNumber: "\t"}, {IsAmexCert: true}} {
		f := newFixture(t)
		_, err := f.service.Search(context.Background(), alice, q)
		require.Error(t, err)
		assert.ErrorIs(t, err, cierrors.ErrValidation)
		assert.Equal(t, "At least one search parameter is required", cierrors.Message(err))
		assert.Zero(t, f.store.total())
		f.directory.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
		assert.Empty(t, f.notifier.all())
	}
}

func TestSearch_Local(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Create(ctx, alice, validInput("api"))
	require.NoError(t, err)
	_, err = f.service.Create(ctx, alice, validInput("web"))
	require.NoError(t, err)

	results, err := f.service.Search(ctx, nil, certs.Query{CommonName: " api "})
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, results.Mode)
	require.Len(t, results.Stored, 1)
	assert.Equal(t, "api", results.Stored[0].CertificateIdentifier)

	results, err = f.service.Search(ctx, nil, certs.Query{CommonName: "example.com", SerialNumber: "missing"})
	require.NoError(t, err)
	assert.Zero(t, results.Len())
	f.directory.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearch_ExternalUpsertsEveryRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	records := []certs.ExternalRecord{externalRecord("c1", "a.example.com"), externalRecord("c2", "b.example.com"), externalRecord("c3", "c.example.com")}
	f.directory.On("Search", ctx, certs.Query{CommonName: "example.com", IsAmexCert: true}).Return(records, nil)

	results, err := f.service.Search(ctx, alice, certs.Query{CommonName: "example.com", IsAmexCert: true})
	require.NoError(t, err)
	assert.Equal(t, ModeExternal, results.Mode)
	assert.Equal(t, records, results.Fetched)
	assert.Equal(t, 3, f.store.calledTimes("UpsertCertificate"))

	stored, err := f.store.Store.SearchCertificates(ctx, certs.Filter{CommonName: "example.com"})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, row := range stored {
		assert.Equal(t, "alice@example.com", certs.Deref(row.CreatedBy))
		assert.Nil(t, row.RenewingTeamID)
		assert.JSONEq(t, `[]`, string(row.Devices))
	}

	changes := f.notifier.all()
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Entity: EntityCertificate, Op: OpRefreshed, IDs: []string{"c1", "c2", "c3"}}, changes[0])
	f.directory.AssertExpectations(t)
}

func TestSearch_ExternalWithoutIdentityRecordsUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := externalRecord("X", "a.b")
	record.Devices = []any{"lb-01", "lb-02"}
	f.directory.On("Search", ctx, mock.Anything).Return([]certs.ExternalRecord{record}, nil)

	results, err := f.service.Search(ctx, nil, certs.Query{CommonName: "a.b", IsAmexCert: true})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Len())

	stored, err := f.store.Store.SearchCertificates(ctx, certs.Filter{CommonName: "a.b"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "X", stored[0].CertificateIdentifier)
	assert.Equal(t, certs.UnknownActor, certs.Deref(stored[0].CreatedBy))
	assert.JSONEq(t, `["lb-01","lb-02"]`, string(stored[0].Devices))
}

func TestSearch_ExternalIsIdempotentAndKeepsAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.directory.On("Search", ctx, mock.Anything).Return([]certs.ExternalRecord{externalRecord("c1", "a.example.com")}, nil).Once()
	updated := externalRecord("c1", "a.example.com")
	updated.Comment = certs.StringPtr("renewed upstream")
	f.directory.On("Search", ctx, mock.Anything).Return([]certs.ExternalRecord{updated}, nil).Once()

	_, err := f.service.Search(ctx, alice, certs.Query{CommonName: "a", IsAmexCert: true})
	require.NoError(t, err)
	first, err := f.store.Store.SearchCertificates(ctx, certs.Filter{CommonName: "a.example.com"})
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = f.service.Search(ctx, &auth.Identity{Email: "bob@example.com"}, certs.Query{CommonName: "a", IsAmexCert: true})
	require.NoError(t, err)
	second, err := f.store.Store.SearchCertificates(ctx, certs.Filter{CommonName: "a.example.com"})
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].CreatedAt, second[0].CreatedAt)
	assert.Equal(t, "alice@example.com", certs.Deref(second[0].CreatedBy))
	assert.True(t, second[0].UpdatedAt.After(first[0].UpdatedAt))
	assert.Equal(t, "renewed upstream", certs.Deref(second[0].Comment))
}

func TestSearch_UpstreamFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.directory.On("Search", ctx, mock.Anything).Return(nil, fmt.Errorf("%w: status 500", cierrors.ErrUpstream))

	results, err := f.service.Search(ctx, alice, certs.Query{SerialNumber: "42", IsAmexCert: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, cierrors.ErrUpstream)
	assert.Zero(t, results.Len())
	assert.Zero(t, f.store.total())
	assert.Empty(t, f.notifier.all())
}

func TestSearch_UnclassifiedDirectoryErrorIsUpstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.directory.On("Search", ctx, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))

	_, err := f.service.Search(ctx, alice, certs.Query{SerialNumber: "42", IsAmexCert: true})
	assert.ErrorIs(t, err, cierrors.ErrUpstream)
}

func TestSearch_DirectoryNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.service.directory = directory.NewDisabled()

	_, err := f.service.Search(context.Background(), alice, certs.Query{SerialNumber: "42", IsAmexCert: true})
	assert.ErrorIs(t, err, cierrors.ErrDirectoryNotConfigured)
	assert.Zero(t, f.store.total())
}

func TestSearch_UpsertFailureStopsLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.upsertErr = errors.New("connection reset")
	f.directory.On("Search", ctx, mock.Anything).Return([]certs.ExternalRecord{externalRecord("c1", "a"), externalRecord("c2", "b")}, nil)

	_, err := f.service.Search(ctx, alice, certs.Query{CommonName: "x", IsAmexCert: true})
	assert.ErrorIs(t, err, cierrors.ErrStorage)
	assert.Equal(t, 1, f.store.calledTimes("UpsertCertificate"))
	assert.Empty(t, f.notifier.all())
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, alice, validInput("api"))
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", created.ID)
	assert.Equal(t, "alice@example.com", certs.Deref(created.CreatedBy))
	assert.Equal(t, teamID, certs.Deref(created.RenewingTeamID))
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.Equal(t, []Change{{Entity: EntityCertificate, Op: OpCreated, IDs: []string{created.ID}}}, f.notifier.all())
}

func TestCreate_RejectedBeforeStorage(t *testing.T) {
	tests := []struct {
		name      string
		identity  *auth.Identity
		input     certs.CertificateInput
		wantErr   error
		wantField string
	}{
		{name: "no identity", input: validInput("api"), wantErr: cierrors.ErrUnauthorized},
		{name: "missing identifier", identity: alice, input: certs.CertificateInput{RenewingTeamID: teamID}, wantErr: cierrors.ErrValidation, wantField: "certificateIdentifier"},
		{name: "missing team", identity: alice, input: certs.CertificateInput{CertificateIdentifier: "api"}, wantErr: cierrors.ErrValidation, wantField: "renewingTeamId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.Create(context.Background(), tt.identity, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantField != "" {
				var validationErr *cierrors.ValidationError
				require.True(t, errors.As(err, &validationErr))
				assert.Equal(t, tt.wantField, validationErr.Field)
			}
			assert.Zero(t, f.store.total())
			assert.Empty(t, f.notifier.all())
		})
	}
}

func TestCreate_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.Create(ctx, alice, validInput("T"))
	require.NoError(t, err)

	_, err = f.service.Create(ctx, alice, validInput("T"))
	require.Error(t, err)
	var validationErr *cierrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "certificateIdentifier", validationErr.Field)
	assert.Equal(t, "Certificate already exists for this team", validationErr.Message)

	rows, err := f.service.List(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreate_UnknownTeam(t *testing.T) {
	f := newFixture(t)
	input := validInput("api")
	input.RenewingTeamID = "9b2f4c1e-0000-4000-8000-000000000000"

	_, err := f.service.Create(context.Background(), alice, input)
	var validationErr *cierrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "renewingTeamId", validationErr.Field)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.service.Create(ctx, alice, validInput("api"))
	require.NoError(t, err)

	updated, err := f.service.Update(ctx, alice, created.ID, certs.CertificatePatch{
		RenewedBy:         certs.StringPtr("bob@example.com"),
		CertificateStatus: certs.StringPtr(certs.StatusRevoked),
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", certs.Deref(updated.RenewedBy))
	assert.Equal(t, certs.StatusRevoked, certs.Deref(updated.CertificateStatus))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, "api.example.com", certs.Deref(updated.CommonName))
	assert.Len(t, f.notifier.all(), 2)
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Update(ctx, nil, "00000000-0000-4000-8000-000000000001", certs.CertificatePatch{})
	assert.ErrorIs(t, err, cierrors.ErrUnauthorized)

	_, err = f.service.Update(ctx, alice, "00000000-0000-4000-8000-000000000099", certs.CertificatePatch{})
	assert.ErrorIs(t, err, cierrors.ErrNotFound)

	_, err = f.service.Update(ctx, alice, "not-a-uuid", certs.CertificatePatch{})
	assert.ErrorIs(t, err, cierrors.ErrNotFound)

	_, err = f.service.Update(ctx, alice, "", certs.CertificatePatch{})
	assert.ErrorIs(t, err, cierrors.ErrValidation)

	empty := ""
	_, err = f.service.Update(ctx, alice, "00000000-0000-4000-8000-000000000001", certs.CertificatePatch{CertificateIdentifier: &empty})
	assert.ErrorIs(t, err, cierrors.ErrValidation)
	assert.Equal(t, 1, f.store.calledTimes("UpdateCertificate"))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.service.Create(ctx, alice, validInput("api"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.Delete(ctx, nil, created.ID), cierrors.ErrUnauthorized)
	assert.Zero(t, f.store.calledTimes("DeleteCertificate"))
	require.NoError(t, f.service.Delete(ctx, alice, created.ID))
	assert.ErrorIs(t, f.service.Delete(ctx, alice, created.ID), cierrors.ErrNotFound)

	rows, err := f.service.List(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.List(ctx, nil)
	assert.ErrorIs(t, err, cierrors.ErrUnauthorized)
	assert.Zero(t, f.store.calledTimes("ListCertificates"))

	_, err = f.service.Create(ctx, alice, validInput("old"))
	require.NoError(t, err)
	_, err = f.service.Create(ctx, alice, validInput("new"))
	require.NoError(t, err)

	rows, err := f.service.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "new", rows[0].CertificateIdentifier)
	require.NotNil(t, rows[0].RenewingTeam)
	assert.Equal(t, "payments", rows[0].RenewingTeam.TeamName)
}

func TestTeams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateTeam(ctx, nil, certs.TeamInput{TeamName: "ops"})
	assert.ErrorIs(t, err, cierrors.ErrUnauthorized)

	team, err := f.service.CreateTeam(ctx, alice, certs.TeamInput{TeamName: "ops", Applications: []string{"ledger"}})
	require.NoError(t, err)
	assert.JSONEq(t, `["ledger"]`, string(team.Applications))

	_, err = f.service.CreateTeam(ctx, alice, certs.TeamInput{TeamName: "ops"})
	var validationErr *cierrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "teamName", validationErr.Field)

	fetched, err := f.service.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops", fetched.TeamName)

	_, err = f.service.GetTeam(ctx, "nope")
	assert.ErrorIs(t, err, cierrors.ErrTeamNotFound)

	teams, err := f.service.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "ops", teams[0].TeamName)
}

func TestSeedTeams_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inputs := []certs.TeamInput{{TeamName: "payments"}, {TeamName: "identity"}}

	created, err := f.service.SeedTeams(ctx, inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"identity"}, created)

	created, err = f.service.SeedTeams(ctx, inputs)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMultiNotifier(t *testing.T) {
	first := &recordingNotifier{}
	var calls int
	multi := MultiNotifier{first, nil, NotifierFunc(func(context.Context, Change) { calls++ })}

	multi.Notify(context.Background(), Change{Entity: EntityTeam, Op: OpCreated})
	assert.Len(t, first.all(), 1)
	assert.Equal(t, 1, calls)
}

func TestActions(t *testing.T) {
	f := newFixture(t)
	actions := NewActions(f.service)
	ctx := context.Background()

	search := actions.Search(ctx, nil, certs.Query{})
	encoded, err := json.Marshal(search)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"At least one search parameter is required"}`, string(encoded))

	search = actions.Search(ctx, nil, certs.Query{CommonName: "nothing"})
	encoded, err = json.Marshal(search)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(encoded))

	created := actions.Create(ctx, alice, certs.CertificateInput{RenewingTeamID: teamID})
	assert.False(t, created.Success)
	assert.Equal(t, "certificateIdentifier", created.Field)
	assert.ErrorIs(t, created.Err, cierrors.ErrValidation)

	created = actions.Create(ctx, alice, validInput("api"))
	require.True(t, created.Success)
	row := created.Data.(certs.Certificate)

	deleted := actions.Delete(ctx, nil, row.ID)
	encoded, err = json.Marshal(deleted)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, string(encoded))

	list := actions.List(ctx, alice)
	assert.True(t, list.Success)
	assert.Len(t, list.Data, 1)

	list = actions.List(ctx, nil)
	assert.False(t, list.Success)
	assert.NotNil(t, list.Data)
}

func TestActions_Teams(t *testing.T) {
	f := newFixture(t)
	actions := NewActions(f.service)
	ctx := context.Background()

	listed := actions.ListTeams(ctx)
	require.True(t, listed.Success)
	assert.Len(t, listed.Data, 1)

	fetched := actions.GetTeam(ctx, teamID)
	require.True(t, fetched.Success)
	assert.Equal(t, "payments", fetched.Data.(certs.Team).TeamName)

	missing := actions.GetTeam(ctx, "00000000-0000-4000-8000-999999999999")
	assert.False(t, missing.Success)
	assert.ErrorIs(t, missing.Err, cierrors.ErrNotFound)

	created := actions.CreateTeam(ctx, alice, certs.TeamInput{TeamName: "payments"})
	assert.False(t, created.Success)
	assert.Equal(t, "teamName", created.Field)
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"certinv/internal/auth"
	"certinv/internal/cache"
	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
	"certinv/internal/inventory"
	"certinv/internal/metrics"
)

const maxFormMemory = 1 << 20

// API serves the certificate and team endpoints.
type API struct {
	actions  *inventory.Actions
	listings *cache.Cache
	recorder *metrics.Recorder
}

// NewAPI wires the HTTP surface to actions. listings caches the certificate
// listing and must be the cache given to ListingInvalidator. recorder may be nil.
func NewAPI(actions *inventory.Actions, listings *cache.Cache, recorder *metrics.Recorder) *API {
	return &API{actions: actions, listings: listings, recorder: recorder}
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/api/certificates/search", a.search)
	r.Get("/api/certificates", a.list)
	r.Post("/api/certificates", a.create)
	r.Patch("/api/certificates/{id}", a.update)
	r.Delete("/api/certificates/{id}", a.remove)

	r.Get("/api/teams", a.listTeams)
	r.Post("/api/teams", a.createTeam)
	r.Get("/api/teams/{id}", a.getTeam)
}

func (a *API) search(w http.ResponseWriter, r *http.Request) {
	q, err := decodeQuery(r)
	if err != nil {
		a.observeSearch(q, err)
		respond(w, r, http.StatusOK, inventory.SearchResult{Error: cierrors.Message(err)}, err, "invalid search request")
		return
	}
	result := a.actions.Search(r.Context(), auth.FromContext(r.Context()), q)
	a.observeSearch(q, result.Err)
	respond(w, r, http.StatusOK, result, result.Err, "certificate search failed")
}

func (a *API) observeSearch(q certs.Query, err error) {
	if a.recorder == nil {
		return
	}
	mode := inventory.ModeLocal
	if q.IsAmexCert {
		mode = inventory.ModeExternal
	}
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, cierrors.ErrValidation):
		outcome = metrics.OutcomeInvalid
	case errors.Is(err, cierrors.ErrDirectoryNotConfigured):
		outcome = metrics.OutcomeUnavailable
	case errors.Is(err, cierrors.ErrUpstream):
		outcome = metrics.OutcomeUpstream
	default:
		outcome = metrics.OutcomeError
	}
	a.recorder.ObserveSearch(mode, outcome)
}

// decodeQuery accepts a JSON body or form fields. A form checkbox sends
// isAmexCert=on when ticked and nothing otherwise.
func decodeQuery(r *http.Request) (certs.Query, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var q certs.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			return certs.Query{}, cierrors.NewValidationError("", fmt.Sprintf("invalid JSON: %v", err))
		}
		return q, nil
	}

	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxFormMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return certs.Query{}, cierrors.NewValidationError("", fmt.Sprintf("invalid form: %v", err))
	}
	return certs.Query{
		CommonName:   r.FormValue("commonName"),
		SerialNumber: r.FormValue("serialNumber"),
		IsAmexCert:   checkboxValue(r.FormValue("isAmexCert")),
	}, nil
}

func checkboxValue(value string) bool {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "on") {
		return true
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity != nil {
		if cached, ok := a.listings.Get(listingCacheKey); ok {
			if rows, ok := cached.([]certs.CertificateWithTeam); ok {
				w.Header().Set("X-Cache", "HIT")
				respond(w, r, http.StatusOK, inventory.ListResult{Success: true, Data: rows}, nil, "")
				return
			}
		}
	}
	generation := a.listings.Generation()
	result := a.actions.List(r.Context(), identity)
	if result.Err == nil {
		if result.Data == nil {
			result.Data = []certs.CertificateWithTeam{}
		}
		a.listings.SetIfGeneration(listingCacheKey, result.Data, generation)
		w.Header().Set("X-Cache", "MISS")
	}
	respond(w, r, http.StatusOK, result, result.Err, "failed to list certificates")
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	var input certs.CertificateInput
	if err := decodeJSON(r, &input); err != nil && identity != nil {
		respond(w, r, http.StatusCreated, invalidBody(err), err, "invalid certificate payload")
		return
	}
	result := a.actions.Create(r.Context(), identity, input)
	respond(w, r, http.StatusCreated, result, result.Err, "failed to create certificate")
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	var patch certs.CertificatePatch
	if err := decodeJSON(r, &patch); err != nil && identity != nil {
		respond(w, r, http.StatusOK, invalidBody(err), err, "invalid certificate patch")
		return
	}
	result := a.actions.Update(r.Context(), identity, chi.URLParam(r, "id"), patch)
	respond(w, r, http.StatusOK, result, result.Err, "failed to update certificate")
}

func (a *API) remove(w http.ResponseWriter, r *http.Request) {
	result := a.actions.Delete(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, result, result.Err, "failed to delete certificate")
}

func (a *API) listTeams(w http.ResponseWriter, r *http.Request) {
	result := a.actions.ListTeams(r.Context())
	respond(w, r, http.StatusOK, result, result.Err, "failed to list teams")
}

func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	var input certs.TeamInput
	if err := decodeJSON(r, &input); err != nil && identity != nil {
		respond(w, r, http.StatusCreated, invalidBody(err), err, "invalid team payload")
		return
	}
	result := a.actions.CreateTeam(r.Context(), identity, input)
	respond(w, r, http.StatusCreated, result, result.Err, "failed to create team")
}

func (a *API) getTeam(w http.ResponseWriter, r *http.Request) {
	result := a.actions.GetTeam(r.Context(), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, result, result.Err, "failed to get team")
}

// decodeJSON decodes without validating. Handlers ignore a decode failure for
// anonymous callers so the service answers them with Unauthorized.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return cierrors.NewValidationError("", "Request body too large")
		}
		return cierrors.NewValidationError("", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func invalidBody(err error) inventory.MutationResult {
	return inventory.MutationResult{Success: false, Error: cierrors.Message(err), Err: err}
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	cierrors "certinv/internal/errors"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{cierrors.ErrMissingSearchParams, http.StatusBadRequest},
		{cierrors.NewValidationError("x", "y"), http.StatusBadRequest},
		{cierrors.ErrUnauthorized, http.StatusUnauthorized},
		{cierrors.ErrCertificateNotFound, http.StatusNotFound},
		{cierrors.ErrTeamNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: status 500", cierrors.ErrUpstream), http.StatusBadGateway},
		{cierrors.ErrDirectoryNotConfigured, http.StatusBadGateway},
		{fmt.Errorf("%w: reset", cierrors.ErrStorage), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), fmt.Sprint(tc.err))
	}
}

func TestCheckboxValue(t *testing.T) {
	for value, want := range map[string]bool{"on": true, "ON": true, "true": true, "1": true, "": false, "off": false, "no": false} {
		assert.Equal(t, want, checkboxValue(value), value)
	}
}

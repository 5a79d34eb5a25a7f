package pagination

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/articurated/orderflow/pkg/errors"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, 0, p.Offset)
}

func TestParseRequest_NoParams_UsesDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders", nil)
	p, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
	assert.Equal(t, 0, p.Offset)
}

func TestParseRequest_ValidParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders?page=3&page_size=50", nil)
	p, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 50, p.PageSize)
	assert.Equal(t, 100, p.Offset)
}

func TestParseRequest_PageSizeClampedToMax(t *testing.T) {
	r := httptest.NewRequest("GET", "/orders?page_size=500", nil)
	p, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, p.PageSize)
}

func TestParseRequest_RejectsNonInteger(t *testing.T) {
	for _, q := range []string{"page=abc", "page_size=abc", "page=1.5"} {
		r := httptest.NewRequest("GET", "/orders?"+q, nil)
		_, err := ParseRequest(r)
		require.Error(t, err, q)

		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "INVALID_PARAMETER", appErr.Code)
		assert.Equal(t, 400, appErr.Status)
	}
}

func TestParseRequest_RejectsNonPositive(t *testing.T) {
	for _, q := range []string{"page=0", "page=-1", "page_size=0", "page_size=-5"} {
		r := httptest.NewRequest("GET", "/orders?"+q, nil)
		_, err := ParseRequest(r)
		assert.Error(t, err, q)
	}
}

func TestTotalPages(t *testing.T) {
	p := Params{Page: 1, PageSize: 10}
	assert.Equal(t, 0, p.TotalPages(0))
	assert.Equal(t, 1, p.TotalPages(10))
	assert.Equal(t, 3, p.TotalPages(25))
	assert.Equal(t, 3, p.TotalPages(30))
}

package pagination

import (
	"net/http"
	"strconv"

	apperrors "github.com/articurated/orderflow/pkg/errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Params holds pagination parameters extracted from query strings.
// Page is 1-indexed.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

// DefaultParams returns sensible pagination defaults.
func DefaultParams() Params {
	return Params{
		Page:     1,
		PageSize: DefaultPageSize,
		Offset:   0,
	}
}

// ParseRequest extracts pagination parameters from an HTTP request.
// Missing parameters fall back to defaults; a non-integer or non-positive
// value is rejected rather than silently corrected. page_size values above
// the maximum are clamped to it.
func ParseRequest(r *http.Request) (Params, error) {
	p := DefaultParams()

	if raw := r.URL.Query().Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return Params{}, invalidParam("page", raw)
		}
		p.Page = v
	}

	if raw := r.URL.Query().Get("page_size"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return Params{}, invalidParam("page_size", raw)
		}
		if v > MaxPageSize {
			v = MaxPageSize
		}
		p.PageSize = v
	}

	p.Offset = (p.Page - 1) * p.PageSize
	return p, nil
}

func invalidParam(name, value string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "INVALID_PARAMETER",
		Message: name + " must be a positive integer, got " + strconv.Quote(value),
		Status:  http.StatusBadRequest,
		Err:     apperrors.ErrInvalidInput,
	}
}

// TotalPages computes the page count for a total item count under these params.
func (p Params) TotalPages(totalItems int) int {
	if p.PageSize <= 0 {
		return 0
	}
	pages := totalItems / p.PageSize
	if totalItems%p.PageSize > 0 {
		pages++
	}
	return pages
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePage(t *testing.T) {
	cases := []struct {
		name        string
		page, limit int
		wantErr     bool
	}{
		{"first page", 1, 10, false},
		{"max limit", 1, 1000, false},
		{"zero page", 0, 10, true},
		{"negative page", -1, 10, true},
		{"zero limit", 1, 0, true},
		{"limit over cap", 1, 1001, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidatePage(c.page, c.limit)

			if c.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Offset(1, 10))
	assert.Equal(t, 10, Offset(2, 10))
	assert.Equal(t, 50, Offset(6, 10))
}

func TestPaginate(t *testing.T) {
	intp := func(n int) *int { return &n }

	cases := []struct {
		name     string
		total    int64
		page     int
		limit    int
		wantNext *int
		wantPrev *int
	}{
		{"first of three pages", 25, 1, 10, intp(2), nil},
		{"middle page", 25, 2, 10, intp(3), intp(1)},
		{"last partial page", 25, 3, 10, nil, intp(2)},
		{"total equals limit", 10, 1, 10, nil, nil},
		{"empty result", 0, 1, 10, nil, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := Paginate(c.total, c.page, c.limit)

			assert.Equal(t, c.total, p.Total)
			assert.Equal(t, c.page, p.Page)
			assert.Equal(t, c.limit, p.Limit)
			assert.Equal(t, c.wantNext, p.NextPage)
			assert.Equal(t, c.wantPrev, p.PrevPage)
		})
	}
}

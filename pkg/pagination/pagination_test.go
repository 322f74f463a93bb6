package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func requestFor(query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/v1/orders"+query, nil)
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Equal(t, 0, p.Offset)
}

func TestFromRequest_Defaults(t *testing.T) {
	p := FromRequest(requestFor(""))

	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Equal(t, 0, p.Offset)
}

func TestFromRequest_CustomValues(t *testing.T) {
	p := FromRequest(requestFor("?page=3&per_page=50"))

	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 50, p.PerPage)
	assert.Equal(t, 100, p.Offset)
}

func TestFromRequest_BadPageFallsBackToDefault(t *testing.T) {
	for _, q := range []string{"?page=-1", "?page=0", "?page=abc"} {
		p := FromRequest(requestFor(q))
		assert.Equal(t, 1, p.Page, "query %q", q)
	}
}

func TestFromRequest_BadPerPageFallsBackToDefault(t *testing.T) {
	for _, q := range []string{"?per_page=0", "?per_page=-5", "?per_page=200"} {
		p := FromRequest(requestFor(q))
		assert.Equal(t, 20, p.PerPage, "query %q", q)
	}
}

func TestFromRequest_PerPageCapIsInclusive(t *testing.T) {
	p := FromRequest(requestFor("?per_page=100"))
	assert.Equal(t, 100, p.PerPage)
}

func TestFromRequest_OffsetCalculation(t *testing.T) {
	tests := []struct {
		page    string
		perPage string
		offset  int
	}{
		{"1", "10", 0},
		{"2", "10", 10},
		{"3", "25", 50},
		{"5", "20", 80},
	}
	for _, tt := range tests {
		p := FromRequest(requestFor("?page=" + tt.page + "&per_page=" + tt.perPage))
		assert.Equal(t, tt.offset, p.Offset)
	}
}

func TestNewResult_SinglePage(t *testing.T) {
	data := []string{"ORD-1", "ORD-2", "ORD-3"}
	params := Params{Page: 1, PerPage: 10, Offset: 0}
	result := NewResult(data, 3, params)

	assert.Equal(t, data, result.Data)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 10, result.PerPage)
	assert.Equal(t, 1, result.TotalPages)
	assert.False(t, result.HasNext)
	assert.False(t, result.HasPrev)
}

func TestNewResult_MiddlePage(t *testing.T) {
	data := []string{"ORD-3", "ORD-4"}
	params := Params{Page: 2, PerPage: 2, Offset: 2}
	result := NewResult(data, 10, params)

	assert.Equal(t, 10, result.TotalCount)
	assert.Equal(t, 2, result.Page)
	assert.Equal(t, 5, result.TotalPages)
	assert.True(t, result.HasNext)
	assert.True(t, result.HasPrev)
}

func TestNewResult_PartialLastPage(t *testing.T) {
	data := []string{"ORD-11"}
	params := Params{Page: 3, PerPage: 5, Offset: 10}
	result := NewResult(data, 11, params)

	assert.Equal(t, 3, result.TotalPages)
	assert.False(t, result.HasNext)
	assert.True(t, result.HasPrev)
}

func TestNewResult_FirstPage(t *testing.T) {
	data := []string{"ORD-1"}
	params := Params{Page: 1, PerPage: 5, Offset: 0}
	result := NewResult(data, 20, params)

	assert.True(t, result.HasNext)
	assert.False(t, result.HasPrev)
}

func TestNewResult_Empty(t *testing.T) {
	result := NewResult([]string{}, 0, Params{Page: 1, PerPage: 20, Offset: 0})

	assert.Equal(t, 0, result.TotalCount)
	assert.Equal(t, 0, result.TotalPages)
	assert.False(t, result.HasNext)
	assert.False(t, result.HasPrev)
}

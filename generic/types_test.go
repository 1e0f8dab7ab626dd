package generic_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// DATES
// =============================================================================

func TestMonthsBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2024-01-15", "2024-06-20", 5},
		{"2024-01-15", "2024-06-15", 5},
		{"2024-01-15", "2024-06-14", 4},
		{"2024-01-31", "2024-02-29", 0},
		{"2024-01-15", "2025-01-15", 12},
		{"2024-01-15", "2024-01-15", 0},
		{"2024-06-20", "2024-01-15", 0},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			got := generic.MonthsBetween(generic.MustParseDate(tt.from), generic.MustParseDate(tt.to))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", d.String())

	d, err = generic.ParseDate("2024-03-05T22:10:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", d.String())

	_, err = generic.ParseDate("05/03/2024")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestDate_JSON(t *testing.T) {
	type doc struct {
		Start generic.Date `json:"start"`
		End   generic.Date `json:"end"`
	}

	out, err := json.Marshal(doc{Start: generic.NewDate(2024, 1, 15)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2024-01-15","end":null}`, string(out))

	var in doc
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2024-02-01","end":""}`), &in))
	assert.Equal(t, "2024-02-01", in.Start.String())
	assert.True(t, in.End.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"start":"soon"}`), &in))
}

// =============================================================================
// MONEY
// =============================================================================

func TestFormatUSD(t *testing.T) {
	tests := map[string]string{
		"0":        "$0.00",
		"560":      "$560.00",
		"1234.5":   "$1,234.50",
		"1000000":  "$1,000,000.00",
		"-500":     "-$500.00",
		"99.999":   "$100.00",
		"123456.7": "$123,456.70",
	}
	for in, want := range tests {
		assert.Equal(t, want, generic.FormatUSD(decimal.RequireFromString(in)), in)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&generic.NotFoundError{Collection: generic.Clients, ID: "1"}, http.StatusNotFound},
		{&generic.ConflictError{Collection: generic.Users, Field: "email", Value: "a@b.c"}, http.StatusConflict},
		{&generic.ForbiddenError{Role: "Agent", Action: "delete agents"}, http.StatusForbidden},
		{&generic.ValidationError{Field: "date", Message: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("login: %w", generic.ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", &generic.NotFoundError{Collection: generic.Tasks, ID: "9"}), http.StatusNotFound},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generic.StatusCode(tt.err), fmt.Sprint(tt.err))
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, generic.IsClientError(&generic.ValidationError{Field: "x"}))
	assert.False(t, generic.IsClientError(fmt.Errorf("io")))
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestMergePatch_KeepsIDAndOverwritesTopLevel(t *testing.T) {
	merged, err := generic.MergePatch(
		json.RawMessage(`{"id":"1","a":1,"nested":{"x":1,"y":2}}`),
		"1",
		json.RawMessage(`{"id":"2","nested":{"x":9},"b":true}`),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","a":1,"nested":{"x":9},"b":true}`, string(merged))
}

func TestNextFreeID_SkipsTaken(t *testing.T) {
	taken := map[generic.ID]bool{"3": true, "4": true}
	id, seq, err := generic.NextFreeID(2, func(id generic.ID) (bool, error) { return taken[id], nil })
	require.NoError(t, err)
	assert.Equal(t, generic.ID("5"), id)
	assert.Equal(t, int64(5), seq)
}

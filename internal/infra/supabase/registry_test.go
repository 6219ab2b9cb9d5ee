package supabase_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/resilience"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/supabase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistry(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return supabase.NewClient(
		srv.Client(), srv.URL, "anon", "service-role",
		resilience.NewCircuitBreaker("supabase-test"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxConcurrency: 4},
		zap.NewNop(),
	)
}

func TestLookup_PhoneOrCard(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/rest/v1/collectors", req.URL.Path)
		assert.Equal(t, "anon", req.Header.Get("apikey"))
		assert.Equal(t, "(phone.eq.0241234567,card_number.eq.0241234567)", req.URL.Query().Get("or"))
		_, _ = w.Write([]byte(`[{"id":"col-9"}]`))
	})

	id, err := r.Lookup(context.Background(), "0241234567")
	require.NoError(t, err)
	assert.Equal(t, "col-9", id)
}

func TestLookup_CardOnly(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "(card_number.eq.KSI-001)", req.URL.Query().Get("or"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := r.Lookup(context.Background(), "ksi-001")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestLookup_AmbiguousIsConflict(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "2", req.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"id":"col-phone"},{"id":"col-card"}]`))
	})

	_, err := r.Lookup(context.Background(), "0241234567")
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestLookup_ServerError(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := r.Lookup(context.Background(), "KSI-001")
	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
}

func TestRegister(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		var row map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&row))
		assert.Equal(t, "+233241234567", row["phone"])
		assert.Nil(t, row["card_number"])

		row["created_at"] = time.Now().UTC()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]map[string]any{row})
	})

	c, err := r.Register(context.Background(), &domain.RegisterCollectorRequest{
		Name:         "Esi",
		Phone:        "+233 24 123 4567",
		Neighborhood: " Nima ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "+233241234567", c.Phone)
	assert.Equal(t, "Nima", c.Neighborhood)
	assert.True(t, c.Active)
}

func TestRegister_Conflict(t *testing.T) {
	r := newRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505"}`))
	})

	_, err := r.Register(context.Background(), &domain.RegisterCollectorRequest{CardNumber: "KSI-001", Neighborhood: "Nima"})
	var dup *domain.ErrDuplicate
	assert.ErrorAs(t, err, &dup)
}

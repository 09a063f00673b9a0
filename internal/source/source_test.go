package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job_harvester/internal/domain"
)

type stubSource struct {
	id string
}

func (s stubSource) ID() string   { return s.id }
func (s stubSource) Name() string { return "stub " + s.id }

func (s stubSource) Fetch(context.Context, domain.Query) ([]domain.RawPosting, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("b", stubSource{id: "b"}))
	require.NoError(t, r.Register("a", stubSource{id: "a"}))

	err := r.Register("a", stubSource{id: "a"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSourceID)
	assert.Equal(t, 2, r.Len())

	err = r.Register("c", stubSource{id: "other"})
	assert.Error(t, err)
}

func TestRegistry_ListEnabled(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"greenhouse", "adzuna", "rendered"} {
		require.NoError(t, r.Register(id, stubSource{id: id}))
	}
	require.NoError(t, r.SetEnabled("greenhouse", false))

	var ids []string
	for _, s := range r.ListEnabled() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"adzuna", "rendered"}, ids)

	// Disabled sources stay reachable by id.
	src, err := r.Get("greenhouse")
	require.NoError(t, err)
	assert.Equal(t, "greenhouse", src.ID())

	require.NoError(t, r.SetEnabled("greenhouse", true))
	assert.Len(t, r.ListEnabled(), 3)
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
	assert.ErrorIs(t, r.SetEnabled("missing", false), domain.ErrSourceNotFound)
}

func TestMatches(t *testing.T) {
	p := domain.RawPosting{Title: "Senior Go Engineer", Location: "Berlin", Description: "Kubernetes and Postgres"}

	assert.True(t, Matches(p, domain.Query{}))
	assert.True(t, Matches(p, domain.Query{Keywords: []string{"go"}}))
	assert.True(t, Matches(p, domain.Query{Keywords: []string{"rust", "postgres"}}))
	assert.False(t, Matches(p, domain.Query{Keywords: []string{"rust"}}))
	assert.True(t, Matches(p, domain.Query{Location: "berlin"}))
	assert.False(t, Matches(p, domain.Query{Location: "paris"}))

	remote := domain.RawPosting{Title: "Go Engineer", Location: "Remote (EU)"}
	assert.True(t, Matches(remote, domain.Query{Location: "paris"}))
}

package route

import (
	"fmt"
	"testing"

	"github.com/loykin/realm/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devSpecs() []process.Spec {
	return []process.Spec{
		{Name: "frontend", Port: 4000, Routes: []string{"/", "/assets/*"}},
		{Name: "backend", Port: 4001, Routes: []string{"/api/*"}},
	}
}

func TestMatch_EndToEndRegistry(t *testing.T) {
	tbl := Build(devSpecs())

	cases := []struct {
		path    string
		process string
		port    uint16
	}{
		{"/api/users", "backend", 4001},
		{"/assets/app.js", "frontend", 4000},
		{"/about", "frontend", 4000},
		{"/", "frontend", 4000},
	}
	for _, c := range cases {
		e, ok := tbl.Match(c.path)
		require.True(t, ok, c.path)
		assert.Equal(t, c.process, e.Process, c.path)
		assert.Equal(t, c.port, e.Port, c.path)
	}
}

func TestMatch_ExactBeatsWildcardOfOtherProcess(t *testing.T) {
	tbl := Build([]process.Spec{
		{Name: "api", Port: 5000, Routes: []string{"/api/*"}},
		{Name: "health", Port: 5001, Routes: []string{"/api/health"}},
	})
	e, ok := tbl.Match("/api/health")
	require.True(t, ok)
	assert.Equal(t, "health", e.Process)

	e, ok = tbl.Match("/api/healthz")
	require.True(t, ok)
	assert.Equal(t, "api", e.Process)
}

func TestMatch_LongestWildcardPrefixWins(t *testing.T) {
	// "a-api" is built before "b-users", so first-found would pick it
	tbl := Build([]process.Spec{
		{Name: "b-users", Port: 5001, Routes: []string{"/api/users/*"}},
		{Name: "a-api", Port: 5000, Routes: []string{"/api/*"}},
	})
	e, ok := tbl.Match("/api/users/42")
	require.True(t, ok)
	assert.Equal(t, "b-users", e.Process)

	e, ok = tbl.Match("/api/orders")
	require.True(t, ok)
	assert.Equal(t, "a-api", e.Process)
}

func TestMatch_EqualPrefixTieIsStable(t *testing.T) {
	specs := []process.Spec{
		{Name: "one", Port: 1, Routes: []string{"/x/*"}},
		{Name: "two", Port: 2, Routes: []string{"/x/*"}},
	}
	for i := 0; i < 10; i++ {
		// input order must not matter, only name order
		in := specs
		if i%2 == 1 {
			in = []process.Spec{specs[1], specs[0]}
		}
		e, ok := Build(in).Match("/x/y")
		require.True(t, ok)
		assert.Equal(t, "one", e.Process)
	}
}

func TestMatch_OnlyFallback(t *testing.T) {
	tbl := Build([]process.Spec{{Name: "spa", Port: 4000, Routes: []string{"/"}}})
	for _, p := range []string{"/", "/about", "/deep/link/here", ""} {
		e, ok := tbl.Match(p)
		require.True(t, ok, p)
		assert.Equal(t, "spa", e.Process)
		assert.Equal(t, uint16(4000), e.Port)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	tbl := Build([]process.Spec{{Name: "api", Port: 5000, Routes: []string{"/api/*", "/status"}}})
	_, ok := tbl.Match("/other")
	assert.False(t, ok)

	var nilTable *Table
	_, ok = nilTable.Match("/")
	assert.False(t, ok)
	assert.Zero(t, nilTable.Len())
}

func TestBuild_DefaultPortAndEmptyRoutes(t *testing.T) {
	tbl := Build([]process.Spec{
		{Name: "noport", Routes: []string{"/np/*"}},
		{Name: "worker", Port: 9000},
	})
	require.Equal(t, 1, tbl.Len())
	e, ok := tbl.Match("/np/a")
	require.True(t, ok)
	assert.Equal(t, DefaultPort, e.Port)
}

func TestBuild_LiteralPatternsRoundTrip(t *testing.T) {
	var specs []process.Spec
	for i := 0; i < 8; i++ {
		specs = append(specs, process.Spec{
			Name:   fmt.Sprintf("p%d", i),
			Port:   uint16(4000 + i),
			Routes: []string{fmt.Sprintf("/p%d", i), fmt.Sprintf("/p%d/*", i), fmt.Sprintf("/shared/p%d/ok", i)},
		})
	}
	specs = append(specs, process.Spec{Name: "catch", Port: 3999, Routes: []string{"/", "/shared/*"}})

	tbl := Build(specs)
	for _, e := range tbl.Entries() {
		if e.Wildcard() {
			continue
		}
		got, ok := tbl.Match(e.Pattern)
		require.True(t, ok, e.Pattern)
		assert.Equal(t, e.Process, got.Process, e.Pattern)
		assert.Equal(t, e.Port, got.Port, e.Pattern)
	}
}

func TestSortedAndEntriesCopy(t *testing.T) {
	tbl := Build(devSpecs())
	sorted := tbl.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "/", sorted[0].Pattern)
	assert.Equal(t, "/assets/*", sorted[1].Pattern)
	assert.Equal(t, "/api/*", sorted[2].Pattern)

	entries := tbl.Entries()
	entries[0].Process = "mutated"
	assert.NotEqual(t, "mutated", tbl.Entries()[0].Process)
}

func TestNewPreservesOrder(t *testing.T) {
	tbl := New([]Entry{
		{Pattern: "/a/*", Process: "first", Port: 1},
		{Pattern: "/a/*", Process: "second", Port: 2},
	})
	e, ok := tbl.Match("/a/b")
	require.True(t, ok)
	assert.Equal(t, "first", e.Process)
}

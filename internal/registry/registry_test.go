package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwire/mcp-client-go/internal/errors"
	"github.com/toolwire/mcp-client-go/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(cfg Config) (*Registry, *events.Bus) {
	bus := events.NewBus(testLogger())

	return New(testLogger(), bus, cfg), bus
}

func objectSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func descriptor(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: "a test tool",
		InputSchema: objectSchema(),
	}
}

// fakeLister serves a fixed remote tool list.
type fakeLister struct {
	tools    []*mcp.Tool
	err      error
	listings int
}

func (f *fakeLister) ListTools(_ context.Context, _ bool) ([]*mcp.Tool, error) {
	f.listings++

	return f.tools, f.err
}

func TestRegisterDefaults(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	meta, err := r.Register(context.Background(), descriptor("search"), RegisterOptions{})
	require.NoError(t, err)

	assert.Equal(t, "search", meta.ID)
	assert.Equal(t, DefaultVersion, meta.Version)
	assert.Equal(t, DefaultCategory, meta.Category)
	assert.True(t, meta.Enabled)
	assert.True(t, meta.Validated)
	assert.False(t, meta.Loaded)
	assert.Equal(t, RemoteProviderName, meta.Provider.Name)
	assert.Equal(t, TrustMedium, meta.Provider.TrustLevel)
	assert.Equal(t, []string{"user", "admin"}, meta.Security.AllowedRoles)
	assert.False(t, meta.RegisteredAt.IsZero())
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	_, err := r.Register(ctx, Descriptor{}, RegisterOptions{})

	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, err = r.Register(ctx, Descriptor{Name: "no-schema"}, RegisterOptions{})
	require.ErrorAs(t, err, &verr)

	_, err = r.Register(ctx, Descriptor{
		Name:        "blank-perm",
		InputSchema: objectSchema(),
		Permissions: []string{"fs:read", "  "},
	}, RegisterOptions{})
	require.ErrorAs(t, err, &verr)

	// SkipValidation admits a schema-less registration, unvalidated.
	meta, err := r.Register(ctx, Descriptor{Name: "no-schema"}, RegisterOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.False(t, meta.Validated)
}

func TestRegisterDuplicate(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	_, err := r.Register(ctx, descriptor("dup"), RegisterOptions{})
	require.NoError(t, err)

	replacement := descriptor("dup")
	replacement.Description = "second attempt"

	_, err = r.Register(ctx, replacement, RegisterOptions{})
	require.ErrorIs(t, err, errors.ErrToolExists)

	// The original registration is untouched by the rejected duplicate.
	meta, ok := r.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "a test tool", meta.Description)

	// Overwrite replaces it wholesale.
	meta, err = r.Register(ctx, replacement, RegisterOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, "second attempt", meta.Description)
}

func TestUnregister(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	_, err := r.Register(ctx, descriptor("temp"), RegisterOptions{Tags: []string{"scratch"}})
	require.NoError(t, err)

	require.NoError(t, r.Unregister(ctx, "temp"))

	_, ok := r.Get("temp")
	assert.False(t, ok)

	// Indexes drop with the registration.
	assert.Empty(t, r.Find(Filter{Tags: []string{"scratch"}}))

	err = r.Unregister(ctx, "temp")
	assert.ErrorIs(t, err, errors.ErrToolNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	_, err := r.Register(context.Background(), descriptor("immutable"), RegisterOptions{Tags: []string{"a"}})
	require.NoError(t, err)

	meta, ok := r.Get("immutable")
	require.True(t, ok)

	meta.Tags[0] = "mutated"
	meta.Enabled = false

	fresh, ok := r.Get("immutable")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, fresh.Tags)
	assert.True(t, fresh.Enabled)
}

func TestSetEnabled(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	_, err := r.Register(context.Background(), descriptor("toggle"), RegisterOptions{})
	require.NoError(t, err)

	require.NoError(t, r.SetEnabled("toggle", false))

	meta, _ := r.Get("toggle")
	assert.False(t, meta.Enabled)

	assert.ErrorIs(t, r.SetEnabled("ghost", true), errors.ErrToolNotFound)
}

func TestCheckPermissionsCollectsAllReasons(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	desc := descriptor("locked")
	desc.Provider = &Provider{Name: "sketchy", TrustLevel: TrustUntrusted}

	_, err := r.Register(context.Background(), desc, RegisterOptions{
		Security: &SecurityPolicy{
			AllowedRoles: []string{"admin"},
			Restrictions: []AccessRestriction{
				{Name: "business-hours", Check: func(ExecContext) bool { return false }},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.SetEnabled("locked", false))

	decision := r.CheckPermissions("locked", ExecContext{Role: "user"})
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Reasons, 4)
	assert.Contains(t, decision.Reasons[0], "disabled")
	assert.Contains(t, decision.Reasons[1], "untrusted")
	assert.Contains(t, decision.Reasons[2], "role")
	assert.Contains(t, decision.Reasons[3], "business-hours")
}

func TestCheckPermissionsAllowed(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	_, err := r.Register(context.Background(), descriptor("open"), RegisterOptions{})
	require.NoError(t, err)

	decision := r.CheckPermissions("open", ExecContext{Role: "user"})
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reasons)

	// An empty role claims nothing, so role restrictions do not apply.
	decision = r.CheckPermissions("open", ExecContext{})
	assert.True(t, decision.Allowed)
}

func TestCheckPermissionsUnregistered(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	decision := r.CheckPermissions("ghost", ExecContext{})
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Reasons, 1)
	assert.Contains(t, decision.Reasons[0], "not registered")
}

func TestRecordExecutionRunningAverage(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	_, err := r.Register(context.Background(), descriptor("counted"), RegisterOptions{})
	require.NoError(t, err)

	r.RecordExecution("counted", 100*time.Millisecond, nil)
	r.RecordExecution("counted", 300*time.Millisecond, fmt.Errorf("boom"))

	meta, ok := r.Get("counted")
	require.True(t, ok)

	assert.Equal(t, int64(2), meta.Stats.UsageCount)
	assert.Equal(t, int64(1), meta.Stats.SuccessCount)
	assert.Equal(t, int64(1), meta.Stats.ErrorCount)
	assert.Equal(t, 200*time.Millisecond, meta.Stats.AvgExecTime)
	assert.Equal(t, 400*time.Millisecond, meta.Stats.TotalExecTime)
	assert.Equal(t, 300*time.Millisecond, meta.Stats.LastExecTime)
	assert.False(t, meta.Stats.LastUsedAt.IsZero())

	// Unknown tools are ignored.
	r.RecordExecution("ghost", time.Millisecond, nil)
}

func TestRecordExecutionAudit(t *testing.T) {
	r, bus := newTestRegistry(Config{RequireAudit: true})

	_, err := r.Register(context.Background(), descriptor("audited"), RegisterOptions{})
	require.NoError(t, err)

	got := make(chan any, 1)
	bus.Subscribe(events.EventToolAudit, func(payload any) {
		got <- payload
	})

	r.RecordExecution("audited", 42*time.Millisecond, fmt.Errorf("denied"))

	select {
	case payload := <-got:
		record, ok := payload.(AuditRecord)
		require.True(t, ok)
		assert.Equal(t, "audited", record.Tool)
		assert.Equal(t, 42*time.Millisecond, record.Duration)
		assert.Equal(t, "denied", record.Err)
	case <-time.After(time.Second):
		t.Fatal("audit event not published")
	}
}

func TestCheckCompatibility(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	desc := descriptor("versioned")
	desc.Version = "1.2.0"

	_, err := r.Register(context.Background(), desc, RegisterOptions{})
	require.NoError(t, err)

	assert.Equal(t, Compatible, r.CheckCompatibility("versioned", "1.0"))
	assert.Equal(t, Compatible, r.CheckCompatibility("versioned", "1.2.0"))
	assert.Equal(t, Incompatible, r.CheckCompatibility("versioned", "1.3"))

	// Numeric comparison, not lexicographic: 1.10 > 1.2.
	assert.Equal(t, Incompatible, r.CheckCompatibility("versioned", "1.10"))

	assert.Equal(t, CompatibilityUnknown, r.CheckCompatibility("ghost", "1.0"))
}

func TestLoadViaRemoteLoader(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	lister := &fakeLister{tools: []*mcp.Tool{
		{Name: "search", Description: "remote description", InputSchema: objectSchema()},
	}}
	r.RegisterLoader(RemoteProviderName, NewRemoteLoader(lister))

	_, err := r.Register(ctx, Descriptor{Name: "search"}, RegisterOptions{SkipValidation: true})
	require.NoError(t, err)

	require.NoError(t, r.Load(ctx, "search"))

	meta, ok := r.Get("search")
	require.True(t, ok)
	assert.True(t, meta.Loaded)

	// The loader fills gaps from the remote descriptor.
	assert.Equal(t, "remote description", meta.Description)
	require.NotNil(t, meta.InputSchema)
	assert.Equal(t, "object", meta.InputSchema.Type)

	require.NoError(t, r.Unload(ctx, "search"))

	meta, _ = r.Get("search")
	assert.False(t, meta.Loaded)
}

func TestLoadUnavailableTool(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	r.RegisterLoader(RemoteProviderName, NewRemoteLoader(&fakeLister{}))

	_, err := r.Register(ctx, descriptor("missing"), RegisterOptions{})
	require.NoError(t, err)

	err = r.Load(ctx, "missing")

	var lerr *errors.LoadError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, errors.ErrToolUnavailable)

	// Load failure leaves the registration in place.
	meta, ok := r.Get("missing")
	require.True(t, ok)
	assert.False(t, meta.Loaded)
}

func TestLoadWithoutLoader(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	_, err := r.Register(ctx, descriptor("orphan"), RegisterOptions{})
	require.NoError(t, err)

	err = r.Load(ctx, "orphan")

	var lerr *errors.LoadError
	require.ErrorAs(t, err, &lerr)

	assert.ErrorIs(t, r.Load(ctx, "ghost"), errors.ErrToolNotFound)
}

func TestAutoLoadFailureKeepsRegistration(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	r.RegisterLoader(RemoteProviderName, NewRemoteLoader(&fakeLister{err: fmt.Errorf("offline")}))

	meta, err := r.Register(context.Background(), descriptor("eager"), RegisterOptions{AutoLoad: true})
	require.NoError(t, err)
	assert.False(t, meta.Loaded)

	_, ok := r.Get("eager")
	assert.True(t, ok)
}

func TestStatistics(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	ctx := context.Background()

	for i, name := range []string{"alpha", "beta", "gamma"} {
		desc := descriptor(name)
		if i == 2 {
			desc.Category = "io"
		}

		_, err := r.Register(ctx, desc, RegisterOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, r.SetEnabled("beta", false))

	r.RecordExecution("beta", time.Millisecond, nil)
	r.RecordExecution("beta", time.Millisecond, nil)
	r.RecordExecution("gamma", time.Millisecond, nil)

	stats := r.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Enabled)
	assert.Equal(t, 2, stats.ByCategory["general"])
	assert.Equal(t, 1, stats.ByCategory["io"])
	assert.Equal(t, 3, stats.ByTrustLevel[string(TrustMedium)])

	require.Len(t, stats.TopTools, 3)
	assert.Equal(t, "beta", stats.TopTools[0].Name)
	assert.Equal(t, int64(2), stats.TopTools[0].UsageCount)
	assert.Equal(t, "gamma", stats.TopTools[1].Name)
}

func TestSweepEvictsLeastRecentlyUsed(t *testing.T) {
	r, _ := newTestRegistry(Config{MaxTools: 2})
	ctx := context.Background()

	clock := time.Now()
	r.now = func() time.Time { return clock }

	for _, name := range []string{"oldest", "middle", "newest"} {
		_, err := r.Register(ctx, descriptor(name), RegisterOptions{})
		require.NoError(t, err)

		clock = clock.Add(time.Minute)
	}

	// Recent use protects an otherwise old entry.
	r.RecordExecution("oldest", time.Millisecond, nil)
	clock = clock.Add(time.Minute)

	r.sweep(ctx)

	_, ok := r.Get("middle")
	assert.False(t, ok, "least recently active entry should be evicted")

	_, ok = r.Get("oldest")
	assert.True(t, ok)
	_, ok = r.Get("newest")
	assert.True(t, ok)
}

func TestSweepUnloadsIdleTools(t *testing.T) {
	r, _ := newTestRegistry(Config{MaxIdleAge: time.Minute})
	ctx := context.Background()

	clock := time.Now()
	r.now = func() time.Time { return clock }

	lister := &fakeLister{tools: []*mcp.Tool{{Name: "sleepy", InputSchema: objectSchema()}}}
	r.RegisterLoader(RemoteProviderName, NewRemoteLoader(lister))

	_, err := r.Register(ctx, descriptor("sleepy"), RegisterOptions{AutoLoad: true})
	require.NoError(t, err)

	meta, _ := r.Get("sleepy")
	require.True(t, meta.Loaded)

	clock = clock.Add(2 * time.Minute)
	r.sweep(ctx)

	meta, _ = r.Get("sleepy")
	assert.False(t, meta.Loaded)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, compareVersions("1.0.0", "1.0"))
	assert.Positive(t, compareVersions("1.10", "1.2"))
	assert.Negative(t, compareVersions("0.9.9", "1.0.0"))
	assert.Equal(t, 0, compareVersions("", ""))
}

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toolwire/mcp-client-go/internal/errors"
	"github.com/toolwire/mcp-client-go/internal/events"
)

// Defaults for Config.
const (
	DefaultTrustLevel      = TrustMedium
	DefaultMaxTools        = 200
	DefaultMaxIdleAge      = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultVersion         = "1.0.0"
	DefaultCategory        = "general"
)

// defaultAllowedRoles apply when a registration carries no explicit policy.
var defaultAllowedRoles = []string{"user", "admin"}

// Config holds registry settings.
type Config struct {
	// DefaultTrustLevel applies to descriptors without an explicit provider.
	// Empty means DefaultTrustLevel (medium).
	DefaultTrustLevel TrustLevel

	// RequireAudit, RequireApproval, and Sandboxed are the security-policy
	// flag defaults for new registrations.
	RequireAudit    bool
	RequireApproval bool
	Sandboxed       bool

	// MaxTools is the cache ceiling; the cleanup sweep unregisters
	// least-recently-used entries beyond it. Zero means DefaultMaxTools.
	MaxTools int

	// MaxIdleAge is how long an unused tool stays loaded. Zero means
	// DefaultMaxIdleAge.
	MaxIdleAge time.Duration

	// CleanupInterval is the sweep period. Zero means DefaultCleanupInterval.
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTrustLevel == "" {
		c.DefaultTrustLevel = DefaultTrustLevel
	}

	if c.MaxTools <= 0 {
		c.MaxTools = DefaultMaxTools
	}

	if c.MaxIdleAge <= 0 {
		c.MaxIdleAge = DefaultMaxIdleAge
	}

	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}

	return c
}

// AuditRecord is published on the event bus for every execution of a tool
// whose policy requires auditing.
type AuditRecord struct {
	Tool     string
	Provider string
	Duration time.Duration
	Err      string
	Time     time.Time
}

// Statistics summarizes the registry's contents and usage.
type Statistics struct {
	Total        int
	Enabled      int
	Loaded       int
	ByCategory   map[string]int
	ByTrustLevel map[string]int
	TopTools     []ToolUsage
}

// ToolUsage pairs a tool name with its usage count for statistics.
type ToolUsage struct {
	Name       string
	UsageCount int64
}

// Registry is the authoritative, queryable catalog of remote capabilities
// with permissioning, trust, and usage accounting. It is independent of
// whether the underlying connection is live.
type Registry struct {
	log *slog.Logger
	bus *events.Bus
	cfg Config

	mu           sync.RWMutex
	tools        map[string]*Metadata
	byCategory   map[string]map[string]struct{}
	byTag        map[string]map[string]struct{}
	byPermission map[string]map[string]struct{}

	loaderMu sync.RWMutex
	loaders  map[string]Loader

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// New creates a registry. The bus receives audit events.
func New(log *slog.Logger, bus *events.Bus, cfg Config) *Registry {
	return &Registry{
		log:          log.With("component", "registry"),
		bus:          bus,
		cfg:          cfg.withDefaults(),
		tools:        make(map[string]*Metadata, 16),
		byCategory:   make(map[string]map[string]struct{}, 8),
		byTag:        make(map[string]map[string]struct{}, 8),
		byPermission: make(map[string]map[string]struct{}, 8),
		loaders:      make(map[string]Loader, 4),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// RegisterLoader installs a loader for the named provider. Registering the
// same provider twice overrides the previous loader.
func (r *Registry) RegisterLoader(provider string, loader Loader) {
	r.loaderMu.Lock()
	defer r.loaderMu.Unlock()

	r.loaders[provider] = loader
}

// Start runs the periodic cleanup sweep until Close or ctx cancellation.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Go(func() {
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Close stops the cleanup sweep. Safe to call multiple times.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})

	r.wg.Wait()
}

// Register adds a tool to the catalog.
//
// Duplicate names are rejected unless opts.Overwrite is set, in which case
// the existing entry is fully unregistered (including unload) first.
// Unless opts.SkipValidation is set, the schema must carry a non-empty type
// and the permission list must be well formed. With opts.AutoLoad, a load is
// attempted immediately; its failure is recorded but does not fail the
// registration.
func (r *Registry) Register(ctx context.Context, desc Descriptor, opts RegisterOptions) (*Metadata, error) {
	if desc.Name == "" {
		return nil, &errors.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	meta := r.buildMetadata(desc, opts)

	if !opts.SkipValidation {
		if err := validate(meta); err != nil {
			return nil, err
		}

		meta.Validated = true
	}

	r.mu.Lock()

	if existing, ok := r.tools[meta.Name]; ok {
		if !opts.Overwrite {
			r.mu.Unlock()

			return nil, fmt.Errorf("%w: %s", errors.ErrToolExists, meta.Name)
		}

		r.removeLocked(existing)
		r.mu.Unlock()

		r.unload(ctx, existing)

		r.mu.Lock()
	}

	r.insertLocked(meta)
	r.mu.Unlock()

	r.log.Info("Tool registered",
		"tool", meta.Name,
		"category", meta.Category,
		"provider", meta.Provider.Name,
		"trust", string(meta.Provider.TrustLevel),
	)

	if opts.AutoLoad {
		if err := r.Load(ctx, meta.Name); err != nil {
			r.log.Warn("Auto-load failed", "tool", meta.Name, "error", err)
		}
	}

	return r.snapshot(meta.Name), nil
}

// Unregister removes a tool, unloading it first.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()

	meta, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()

		return fmt.Errorf("%w: %s", errors.ErrToolNotFound, name)
	}

	r.removeLocked(meta)
	r.mu.Unlock()

	r.unload(ctx, meta)

	r.log.Info("Tool unregistered", "tool", name)

	return nil
}

// Load resolves the tool through its provider's loader and marks it loaded.
// Failure leaves the registration in place with Loaded=false.
func (r *Registry) Load(ctx context.Context, name string) error {
	r.mu.RLock()
	meta, ok := r.tools[name]

	var work Metadata
	if ok {
		work = *meta
	}

	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrToolNotFound, name)
	}

	loader, ok := r.loader(work.Provider.Name)
	if !ok {
		return &errors.LoadError{
			Tool:     name,
			Provider: work.Provider.Name,
			Err:      fmt.Errorf("no loader registered"),
		}
	}

	if err := loader.Load(ctx, &work); err != nil {
		r.setLoaded(name, false)

		return &errors.LoadError{Tool: name, Provider: work.Provider.Name, Err: err}
	}

	// Merge fields the loader may have filled in from the remote descriptor.
	r.mu.Lock()

	if meta, ok := r.tools[name]; ok {
		if meta.InputSchema == nil {
			meta.InputSchema = work.InputSchema
		}

		if meta.Description == "" {
			meta.Description = work.Description
		}

		meta.Loaded = true
	}

	r.mu.Unlock()

	r.log.Debug("Tool loaded", "tool", name)

	return nil
}

// Unload releases the tool via its provider's loader and marks it unloaded.
// Providers without a loader unload as a no-op.
func (r *Registry) Unload(ctx context.Context, name string) error {
	r.mu.RLock()
	meta, ok := r.tools[name]

	var work Metadata
	if ok {
		work = *meta
	}

	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrToolNotFound, name)
	}

	if loader, ok := r.loader(work.Provider.Name); ok {
		if err := loader.Unload(ctx, &work); err != nil {
			return &errors.LoadError{Tool: name, Provider: work.Provider.Name, Err: err}
		}
	}

	r.setLoaded(name, false)
	r.log.Debug("Tool unloaded", "tool", name)

	return nil
}

// Get returns a copy of the tool's metadata.
func (r *Registry) Get(name string) (*Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.tools[name]
	if !ok {
		return nil, false
	}

	return cloneMetadata(meta), true
}

// SetEnabled toggles a tool without touching its registration.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrToolNotFound, name)
	}

	meta.Enabled = enabled

	return nil
}

// CheckPermissions evaluates whether the execution context may run the
// tool. Every violated reason is collected, not just the first.
func (r *Registry) CheckPermissions(name string, ec ExecContext) Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.tools[name]
	if !ok {
		return Decision{Reasons: []string{fmt.Sprintf("tool %q is not registered", name)}}
	}

	var reasons []string

	if !meta.Enabled {
		reasons = append(reasons, fmt.Sprintf("tool %q is disabled", name))
	}

	if meta.Provider.TrustLevel == TrustUntrusted {
		reasons = append(reasons, fmt.Sprintf("provider %q is untrusted", meta.Provider.Name))
	}

	if ec.Role != "" && len(meta.Security.AllowedRoles) > 0 &&
		!slices.Contains(meta.Security.AllowedRoles, ec.Role) {
		reasons = append(reasons, fmt.Sprintf("role %q is not allowed", ec.Role))
	}

	for _, restriction := range meta.Security.Restrictions {
		if restriction.Check != nil && !restriction.Check(ec) {
			reasons = append(reasons, fmt.Sprintf("restriction %q failed", restriction.Name))
		}
	}

	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}
}

// RecordExecution updates the tool's usage accounting after an invocation,
// successful or not, and emits an audit event when the policy requires it.
func (r *Registry) RecordExecution(name string, elapsed time.Duration, execErr error) {
	now := r.now()

	r.mu.Lock()

	meta, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()

		return
	}

	s := &meta.Stats
	s.UsageCount++

	if execErr != nil {
		s.ErrorCount++
	} else {
		s.SuccessCount++
	}

	s.LastUsedAt = now
	s.LastExecTime = elapsed
	s.TotalExecTime += elapsed
	s.AvgExecTime = time.Duration(
		(int64(s.AvgExecTime)*(s.UsageCount-1) + int64(elapsed)) / s.UsageCount,
	)

	audit := meta.Security.RequireAudit
	provider := meta.Provider.Name

	r.mu.Unlock()

	if !audit {
		return
	}

	record := AuditRecord{
		Tool:     name,
		Provider: provider,
		Duration: elapsed,
		Time:     now,
	}
	if execErr != nil {
		record.Err = execErr.Error()
	}

	r.log.Info("Tool execution audited",
		"tool", name,
		"duration", elapsed,
		"error", record.Err,
	)
	r.bus.Publish(events.EventToolAudit, record)
}

// CheckCompatibility compares the tool's version against the caller's
// minimum using dotted-numeric comparison. There is no semantic-range
// negotiation beyond numeric component comparison.
func (r *Registry) CheckCompatibility(name, minVersion string) Compatibility {
	r.mu.RLock()
	meta, ok := r.tools[name]

	var version string
	if ok {
		version = meta.Version
	}

	r.mu.RUnlock()

	if !ok {
		return CompatibilityUnknown
	}

	if compareVersions(version, minVersion) >= 0 {
		return Compatible
	}

	return Incompatible
}

// Statistics summarizes the catalog.
func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Statistics{
		Total:        len(r.tools),
		ByCategory:   make(map[string]int, len(r.byCategory)),
		ByTrustLevel: make(map[string]int, 5),
	}

	usage := make([]ToolUsage, 0, len(r.tools))

	for _, meta := range r.tools {
		if meta.Enabled {
			stats.Enabled++
		}

		if meta.Loaded {
			stats.Loaded++
		}

		stats.ByCategory[meta.Category]++
		stats.ByTrustLevel[string(meta.Provider.TrustLevel)]++
		usage = append(usage, ToolUsage{Name: meta.Name, UsageCount: meta.Stats.UsageCount})
	}

	slices.SortFunc(usage, func(a, b ToolUsage) int {
		if a.UsageCount != b.UsageCount {
			return int(b.UsageCount - a.UsageCount)
		}

		return strings.Compare(a.Name, b.Name)
	})

	if len(usage) > 5 {
		usage = usage[:5]
	}

	stats.TopTools = usage

	return stats
}

// sweep unloads idle tools and evicts least-recently-used entries beyond
// the cache ceiling.
func (r *Registry) sweep(ctx context.Context) {
	now := r.now()

	r.mu.RLock()

	var idle []string

	all := make([]*Metadata, 0, len(r.tools))

	for _, meta := range r.tools {
		all = append(all, meta)

		if meta.Loaded && now.Sub(lastActivity(meta)) > r.cfg.MaxIdleAge {
			idle = append(idle, meta.Name)
		}
	}

	over := len(all) - r.cfg.MaxTools

	var evict []string

	if over > 0 {
		slices.SortFunc(all, func(a, b *Metadata) int {
			return lastActivity(a).Compare(lastActivity(b))
		})

		for _, meta := range all[:over] {
			evict = append(evict, meta.Name)
		}
	}

	r.mu.RUnlock()

	for _, name := range idle {
		if err := r.Unload(ctx, name); err != nil {
			r.log.Warn("Sweep unload failed", "tool", name, "error", err)
		} else {
			r.log.Debug("Unloaded idle tool", "tool", name)
		}
	}

	for _, name := range evict {
		if err := r.Unregister(ctx, name); err != nil {
			r.log.Warn("Sweep eviction failed", "tool", name, "error", err)
		} else {
			r.log.Info("Evicted least-recently-used tool", "tool", name)
		}
	}
}

// lastActivity is the LRU key: last use, or registration time for tools
// never used.
func lastActivity(meta *Metadata) time.Time {
	if meta.Stats.LastUsedAt.IsZero() {
		return meta.RegisteredAt
	}

	return meta.Stats.LastUsedAt
}

func (r *Registry) buildMetadata(desc Descriptor, opts RegisterOptions) *Metadata {
	meta := &Metadata{
		ID:           desc.Name,
		Name:         desc.Name,
		Version:      desc.Version,
		Category:     desc.Category,
		Description:  desc.Description,
		InputSchema:  desc.InputSchema,
		Tags:         slices.Clone(opts.Tags),
		Enabled:      true,
		RegisteredAt: r.now(),
	}

	if meta.Version == "" {
		meta.Version = DefaultVersion
	}

	if meta.Category == "" {
		meta.Category = DefaultCategory
	}

	if desc.Provider != nil {
		meta.Provider = *desc.Provider
	} else {
		meta.Provider = Provider{Name: RemoteProviderName, TrustLevel: r.cfg.DefaultTrustLevel}
	}

	if opts.Security != nil {
		meta.Security = *opts.Security
	} else {
		meta.Security = SecurityPolicy{
			RequiredPermissions: slices.Clone(desc.Permissions),
			AllowedRoles:        slices.Clone(defaultAllowedRoles),
			RequireAudit:        r.cfg.RequireAudit,
			RequireApproval:     r.cfg.RequireApproval,
			Sandboxed:           r.cfg.Sandboxed,
		}
	}

	return meta
}

func validate(meta *Metadata) error {
	if meta.InputSchema == nil || meta.InputSchema.Type == "" {
		return &errors.ValidationError{Field: "input schema", Reason: "must declare a non-empty type"}
	}

	for _, perm := range meta.Security.RequiredPermissions {
		if strings.TrimSpace(perm) == "" {
			return &errors.ValidationError{Field: "security policy", Reason: "permission names must not be blank"}
		}
	}

	return nil
}

// insertLocked adds meta to the primary table and every secondary index in
// the same critical section. Caller holds mu.
func (r *Registry) insertLocked(meta *Metadata) {
	r.tools[meta.Name] = meta

	addIndex(r.byCategory, meta.Category, meta.Name)

	for _, tag := range meta.Tags {
		addIndex(r.byTag, tag, meta.Name)
	}

	for _, perm := range meta.Security.RequiredPermissions {
		addIndex(r.byPermission, perm, meta.Name)
	}
}

// removeLocked removes meta from the primary table and every secondary
// index in the same critical section. Caller holds mu.
func (r *Registry) removeLocked(meta *Metadata) {
	delete(r.tools, meta.Name)

	dropIndex(r.byCategory, meta.Category, meta.Name)

	for _, tag := range meta.Tags {
		dropIndex(r.byTag, tag, meta.Name)
	}

	for _, perm := range meta.Security.RequiredPermissions {
		dropIndex(r.byPermission, perm, meta.Name)
	}
}

func addIndex(index map[string]map[string]struct{}, key, name string) {
	if index[key] == nil {
		index[key] = make(map[string]struct{}, 4)
	}

	index[key][name] = struct{}{}
}

func dropIndex(index map[string]map[string]struct{}, key, name string) {
	if set, ok := index[key]; ok {
		delete(set, name)

		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func (r *Registry) loader(provider string) (Loader, bool) {
	r.loaderMu.RLock()
	defer r.loaderMu.RUnlock()

	l, ok := r.loaders[provider]

	return l, ok
}

func (r *Registry) unload(ctx context.Context, meta *Metadata) {
	if loader, ok := r.loader(meta.Provider.Name); ok {
		work := *meta
		if err := loader.Unload(ctx, &work); err != nil {
			r.log.Warn("Unload failed during unregister", "tool", meta.Name, "error", err)
		}
	}
}

func (r *Registry) setLoaded(name string, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if meta, ok := r.tools[name]; ok {
		meta.Loaded = loaded
	}
}

func (r *Registry) snapshot(name string) *Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if meta, ok := r.tools[name]; ok {
		return cloneMetadata(meta)
	}

	return nil
}

func cloneMetadata(meta *Metadata) *Metadata {
	out := *meta
	out.Tags = slices.Clone(meta.Tags)
	out.Security.RequiredPermissions = slices.Clone(meta.Security.RequiredPermissions)
	out.Security.AllowedRoles = slices.Clone(meta.Security.AllowedRoles)
	out.Security.Restrictions = slices.Clone(meta.Security.Restrictions)

	return &out
}

// compareVersions compares dotted-numeric versions component by component.
// Missing components count as zero; non-numeric components compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0

		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}

		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}

		if av != bv {
			return av - bv
		}
	}

	return 0
}

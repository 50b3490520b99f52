package graphsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/schema"
	"github.com/ontoloom/ontoloom/internal/store"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mocks shared across package graphsync tests

type staticSchemaStore struct {
	mu     sync.Mutex
	schema *domain.Schema
}

func (s *staticSchemaStore) Get(ctx context.Context) (*domain.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema == nil {
		return nil, store.ErrNotFound
	}
	return s.schema.Clone(), nil
}

func (s *staticSchemaStore) Save(ctx context.Context, sc *domain.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = sc.Clone()
	return nil
}

type syncMockGraph struct {
	mu       sync.Mutex
	indexes  map[string]bool
	metadata map[string]string

	metadataErr   error
	metadataCalls int

	queryResults map[string][]map[string]any
	queryErrs    map[string]error
	queries      []string

	// When set, the first SetMetadata call signals started and blocks until
	// release is closed.
	started chan struct{}
	release chan struct{}
}

func newSyncMockGraph() *syncMockGraph {
	return &syncMockGraph{
		indexes:      make(map[string]bool),
		metadata:     make(map[string]string),
		queryResults: make(map[string][]map[string]any),
		queryErrs:    make(map[string]error),
	}
}

func (g *syncMockGraph) Stats(ctx context.Context) (*domain.GraphStats, error) {
	return &domain.GraphStats{}, nil
}

func (g *syncMockGraph) FindNodes(ctx context.Context, label string, limit int) ([]domain.GraphNode, error) {
	return nil, nil
}

func (g *syncMockGraph) FindRelationships(ctx context.Context, relType string, limit int) ([]domain.GraphRelationship, error) {
	return nil, nil
}

func (g *syncMockGraph) Query(ctx context.Context, query string) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
	if err, ok := g.queryErrs[query]; ok {
		return nil, err
	}
	return g.queryResults[query], nil
}

func (g *syncMockGraph) EnsureIndex(ctx context.Context, label, property string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := label + "." + property
	if g.indexes[key] {
		return false, nil
	}
	g.indexes[key] = true
	return true, nil
}

func (g *syncMockGraph) SetMetadata(ctx context.Context, key, value string) error {
	g.mu.Lock()
	g.metadataCalls++
	started := g.started
	release := g.release
	g.started = nil
	g.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.metadataErr != nil {
		return g.metadataErr
	}
	g.metadata[key] = value
	return nil
}

func (g *syncMockGraph) GetMetadata(ctx context.Context, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.metadata[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (g *syncMockGraph) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metadataCalls
}

type fakeNotifier struct {
	events chan domain.SchemaChangeEvent
}

func (n *fakeNotifier) Subscribe(ctx context.Context) (<-chan domain.SchemaChangeEvent, error) {
	out := make(chan domain.SchemaChangeEvent)
	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-n.events:
				if !ok {
					return
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func indexedSchema() *domain.Schema {
	s := domain.NewSchema()
	s.EntityTypes["Person"] = domain.EntityType{
		Label: "Person",
		Properties: map[string]domain.PropertyDef{
			"name":  {Type: domain.PropertyString, Required: true},
			"email": {Type: domain.PropertyString, Unique: true},
			"tags":  {Type: domain.PropertyArray, Searchable: true},
			"notes": {Type: domain.PropertyString},
		},
	}
	return s
}

func newSyncManager(t *testing.T, s *domain.Schema) *schema.Manager {
	t.Helper()
	return schema.NewManager(&staticSchemaStore{schema: s}, nil, nil, zap.NewNop())
}

func TestExportCreatesIndexes(t *testing.T) {
	graph := newSyncMockGraph()
	graph.indexes["Person.email"] = true // pre-existing

	manager := newSyncManager(t, indexedSchema())
	exporter := NewExporter(manager, graph, zap.NewNop())

	report, err := exporter.Export(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.IndexesCreated) != 2 || report.IndexesCreated[0] != "Person.name" || report.IndexesCreated[1] != "Person.tags" {
		t.Errorf("unexpected created indexes: %v", report.IndexesCreated)
	}
	if len(report.IndexesSkipped) != 1 || report.IndexesSkipped[0] != "Person.email" {
		t.Errorf("unexpected skipped indexes: %v", report.IndexesSkipped)
	}
	if report.Version != "1.0" {
		t.Errorf("unexpected version: %s", report.Version)
	}

	recorded, err := graph.GetMetadata(context.Background(), MetadataVersionKey)
	if err != nil || recorded != "1.0" {
		t.Errorf("expected recorded version 1.0, got %q (%v)", recorded, err)
	}
}

func TestExportRunsInferenceRules(t *testing.T) {
	graph := newSyncMockGraph()
	graph.queryResults["MATCH (p:Person) WHERE p.manager IS NULL RETURN p"] = []map[string]any{{"p": "alice"}}
	graph.queryErrs["BROKEN ACTION"] = errors.New("syntax error")

	s := indexedSchema()
	s.InferenceRules = []domain.InferenceRule{
		{Name: "default_manager", Action: "SET p.manager = 'unassigned'", Enabled: true,
			Condition: "MATCH (p:Person) WHERE p.manager IS NULL RETURN p"},
		{Name: "skipped_condition", Action: "SET x = 1", Enabled: true,
			Condition: "MATCH (n:Nothing) RETURN n"},
		{Name: "disabled_rule", Action: "SET y = 2", Enabled: false},
		{Name: "failing_rule", Action: "BROKEN ACTION", Enabled: true},
	}

	manager := newSyncManager(t, s)
	exporter := NewExporter(manager, graph, zap.NewNop())
	exporter.SetApplyRules(true)

	report, err := exporter.Export(context.Background())
	if err != nil {
		t.Fatalf("a failing rule must not fail the export: %v", err)
	}
	if len(report.RulesApplied) != 1 || report.RulesApplied[0] != "default_manager" {
		t.Errorf("unexpected rules applied: %v", report.RulesApplied)
	}

	graph.mu.Lock()
	queries := append([]string{}, graph.queries...)
	graph.mu.Unlock()

	var actionRan, disabledRan bool
	for _, q := range queries {
		if q == "SET p.manager = 'unassigned'" {
			actionRan = true
		}
		if q == "SET y = 2" || q == "SET x = 1" {
			disabledRan = true
		}
	}
	if !actionRan {
		t.Error("expected the satisfied rule's action to run")
	}
	if disabledRan {
		t.Error("disabled and condition-false rules must not run their actions")
	}

	// The export still records the version after a rule failure.
	recorded, err := graph.GetMetadata(context.Background(), MetadataVersionKey)
	if err != nil || recorded != "1.0" {
		t.Errorf("expected recorded version 1.0, got %q (%v)", recorded, err)
	}
}

func TestExportSkipsRulesWhenDisabled(t *testing.T) {
	graph := newSyncMockGraph()
	s := indexedSchema()
	s.InferenceRules = []domain.InferenceRule{
		{Name: "r1", Action: "SET x = 1", Enabled: true},
	}

	manager := newSyncManager(t, s)
	exporter := NewExporter(manager, graph, zap.NewNop())

	report, err := exporter.Export(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.RulesApplied) != 0 {
		t.Errorf("rules must not run unless enabled on the exporter, got %v", report.RulesApplied)
	}
	graph.mu.Lock()
	defer graph.mu.Unlock()
	if len(graph.queries) != 0 {
		t.Errorf("expected no rule queries, got %v", graph.queries)
	}
}

func TestNeedsSync(t *testing.T) {
	graph := newSyncMockGraph()
	manager := newSyncManager(t, indexedSchema())
	exporter := NewExporter(manager, graph, zap.NewNop())
	ctx := context.Background()

	// Nothing recorded yet.
	needs, err := exporter.NeedsSync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !needs {
		t.Error("graph without a recorded version must need sync")
	}

	if _, err := exporter.Export(ctx); err != nil {
		t.Fatalf("export: %v", err)
	}
	needs, err = exporter.NeedsSync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if needs {
		t.Error("freshly exported graph must not need sync")
	}

	// A schema mutation bumps the version and reopens the gap.
	err = manager.AddEntityType(ctx, "Project", domain.EntityType{Label: "Project"}, "", "test")
	if err != nil {
		t.Fatalf("add entity type: %v", err)
	}
	needs, err = exporter.NeedsSync(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !needs {
		t.Error("version bump must reopen the sync gap")
	}
}

func TestCoordinatorDebouncesBursts(t *testing.T) {
	graph := newSyncMockGraph()
	manager := newSyncManager(t, indexedSchema())
	exporter := NewExporter(manager, graph, zap.NewNop())

	notifier := &fakeNotifier{events: make(chan domain.SchemaChangeEvent)}
	coordinator := NewCoordinator(exporter, manager, notifier, zap.NewNop())
	coordinator.SetDebounce(30 * time.Millisecond)

	if err := coordinator.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer coordinator.Stop()

	for i := 0; i < 5; i++ {
		notifier.events <- domain.SchemaChangeEvent{Op: "UPDATE", Version: "1.0"}
	}

	deadline := time.Now().Add(2 * time.Second)
	for graph.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Allow a second debounce window to prove no extra sync fires.
	time.Sleep(60 * time.Millisecond)

	if got := graph.calls(); got != 1 {
		t.Errorf("expected burst coalesced into one sync, got %d", got)
	}

	status := coordinator.Status()
	if status.PendingEvent {
		t.Error("pending flag must clear after a successful sync")
	}
	if status.LastVersion != "1.0" || status.LastSyncAt == nil {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestForceSyncSingleFlight(t *testing.T) {
	graph := newSyncMockGraph()
	graph.started = make(chan struct{})
	graph.release = make(chan struct{})

	manager := newSyncManager(t, indexedSchema())
	exporter := NewExporter(manager, graph, zap.NewNop())
	coordinator := NewCoordinator(exporter, manager, nil, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := coordinator.ForceSync(context.Background())
		done <- err
	}()

	<-graph.started
	if _, err := coordinator.ForceSync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
	close(graph.release)

	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// The slot is free again.
	if _, err := coordinator.ForceSync(context.Background()); err != nil {
		t.Errorf("sync after release failed: %v", err)
	}
}

func TestCoordinatorBoundsErrorHistory(t *testing.T) {
	graph := newSyncMockGraph()
	graph.metadataErr = errors.New("graph unavailable")

	manager := newSyncManager(t, indexedSchema())
	exporter := NewExporter(manager, graph, zap.NewNop())
	coordinator := NewCoordinator(exporter, manager, nil, zap.NewNop())

	for i := 0; i < 7; i++ {
		if _, err := coordinator.ForceSync(context.Background()); err == nil {
			t.Fatal("expected sync failure")
		}
	}

	status := coordinator.Status()
	if len(status.RecentErrors) != 5 {
		t.Fatalf("expected error history capped at 5, got %d", len(status.RecentErrors))
	}
	for _, syncErr := range status.RecentErrors {
		if syncErr.Message == "" || syncErr.At.IsZero() {
			t.Errorf("incomplete error record: %+v", syncErr)
		}
	}
	if status.LastVersion != "" {
		t.Error("failed syncs must not record a version")
	}
	if status.LastSyncAt != nil {
		t.Error("failed syncs must not record a completion time")
	}
}

package schema

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/store"
	"go.uber.org/zap"
)

// Mock stores for manager tests

type mockSchemaStore struct {
	mu     sync.Mutex
	schema *domain.Schema
	getErr error
	svErr  error
	saves  int
}

func (m *mockSchemaStore) Get(ctx context.Context) (*domain.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.schema == nil {
		return nil, store.ErrNotFound
	}
	return m.schema.Clone(), nil
}

func (m *mockSchemaStore) Save(ctx context.Context, s *domain.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.svErr != nil {
		return m.svErr
	}
	m.schema = s.Clone()
	m.saves++
	return nil
}

type mockChangeLog struct {
	mu      sync.Mutex
	entries []domain.ChangeLogEntry
}

func (m *mockChangeLog) Append(ctx context.Context, e *domain.ChangeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockChangeLog) List(ctx context.Context, limit int) ([]domain.ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChangeLogEntry{}, m.entries...), nil
}

func (m *mockChangeLog) last() *domain.ChangeLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	e := m.entries[len(m.entries)-1]
	return &e
}

func newTestManager(t *testing.T, remote *mockSchemaStore) (*Manager, *mockChangeLog) {
	t.Helper()
	changeLog := &mockChangeLog{}
	file := NewFileStore(filepath.Join(t.TempDir(), "ontology.json"))
	return NewManager(remote, changeLog, file, zap.NewNop()), changeLog
}

func schemaWithEntity(version string, names ...string) *domain.Schema {
	s := domain.NewSchema()
	s.Version = version
	for _, name := range names {
		s.EntityTypes[name] = domain.EntityType{
			Label: name,
			Properties: map[string]domain.PropertyDef{
				"name": {Type: domain.PropertyString, Required: true},
			},
		}
	}
	return s
}

func TestManagerStartsEmptyWhenNothingStored(t *testing.T) {
	m, _ := newTestManager(t, &mockSchemaStore{})

	version, err := m.Version(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "1.0" {
		t.Errorf("expected empty schema at version 1.0, got %s", version)
	}
}

func TestManagerLoadsRemoteSchema(t *testing.T) {
	remote := &mockSchemaStore{schema: schemaWithEntity("2.3", "Person")}
	m, _ := newTestManager(t, remote)

	s, err := m.Schema(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Version != "2.3" {
		t.Errorf("expected version 2.3, got %s", s.Version)
	}
	if !s.HasEntityType("Person") {
		t.Error("expected Person entity type from remote")
	}
}

func TestManagerFileWinsOnHigherVersion(t *testing.T) {
	remote := &mockSchemaStore{schema: schemaWithEntity("1.2", "Person")}
	changeLog := &mockChangeLog{}
	file := NewFileStore(filepath.Join(t.TempDir(), "ontology.json"))
	if err := file.Save(schemaWithEntity("1.5", "Person", "Project")); err != nil {
		t.Fatalf("failed to write file backup: %v", err)
	}

	m := NewManager(remote, changeLog, file, zap.NewNop())
	s, err := m.Schema(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Version != "1.5" {
		t.Errorf("expected file version 1.5 to win, got %s", s.Version)
	}
	if !s.HasEntityType("Project") {
		t.Error("expected Project entity type from file backup")
	}
}

func TestManagerRemoteWinsWhenNewer(t *testing.T) {
	remoteSchema := schemaWithEntity("2.0", "Person")
	remoteSchema.RelationTypes["WORKS_ON"] = domain.RelationType{
		FromTypes: []string{"Person"}, ToTypes: []string{"Project"},
	}
	remote := &mockSchemaStore{schema: remoteSchema}
	changeLog := &mockChangeLog{}
	file := NewFileStore(filepath.Join(t.TempDir(), "ontology.json"))
	if err := file.Save(schemaWithEntity("1.5", "Person", "Project", "Extra")); err != nil {
		t.Fatalf("failed to write file backup: %v", err)
	}

	m := NewManager(remote, changeLog, file, zap.NewNop())
	version, err := m.Version(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "2.0" {
		t.Errorf("expected remote version 2.0 to win, got %s", version)
	}
}

func TestManagerFileWinsWhenRemoteLostRelations(t *testing.T) {
	// Remote is newer but has zero relation types while the file has some:
	// treat the remote as damaged.
	remote := &mockSchemaStore{schema: schemaWithEntity("3.0", "Person")}
	fileSchema := schemaWithEntity("2.0", "Person")
	fileSchema.RelationTypes["WORKS_ON"] = domain.RelationType{
		FromTypes: []string{"Person"}, ToTypes: []string{"Project"},
	}
	changeLog := &mockChangeLog{}
	file := NewFileStore(filepath.Join(t.TempDir(), "ontology.json"))
	if err := file.Save(fileSchema); err != nil {
		t.Fatalf("failed to write file backup: %v", err)
	}

	m := NewManager(remote, changeLog, file, zap.NewNop())
	s, err := m.Schema(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Version != "2.0" {
		t.Errorf("expected file version 2.0 to win, got %s", s.Version)
	}
	if !s.HasRelationType("WORKS_ON") {
		t.Error("expected relation types preserved from file backup")
	}
}

func TestAddEntityTypeBumpsVersionAndLogs(t *testing.T) {
	remote := &mockSchemaStore{}
	m, changeLog := newTestManager(t, remote)
	ctx := context.Background()

	err := m.AddEntityType(ctx, "Person", domain.EntityType{Label: "Person"}, "tester", "initial")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	version, _ := m.Version(ctx)
	if version != "1.1" {
		t.Errorf("expected version 1.1 after first mutation, got %s", version)
	}

	entry := changeLog.last()
	if entry == nil {
		t.Fatal("expected a change log entry")
	}
	if entry.ChangeType != domain.ChangeEntityAdded {
		t.Errorf("expected entity_added, got %s", entry.ChangeType)
	}
	if entry.TargetName != "Person" {
		t.Errorf("expected target Person, got %s", entry.TargetName)
	}
	if entry.OldDefinition != nil {
		t.Error("expected no old definition for a new type")
	}

	// Replacing an existing type logs entity_modified with the old definition.
	err = m.AddEntityType(ctx, "Person", domain.EntityType{Label: "Person", Description: "v2"}, "tester", "update")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry = changeLog.last()
	if entry.ChangeType != domain.ChangeEntityModified {
		t.Errorf("expected entity_modified, got %s", entry.ChangeType)
	}
	if entry.OldDefinition == nil {
		t.Error("expected old definition on modification")
	}
}

func TestVersionStrictlyIncreases(t *testing.T) {
	m, _ := newTestManager(t, &mockSchemaStore{})
	ctx := context.Background()

	want := []string{"1.1", "1.2", "1.3"}
	mutations := []func() error{
		func() error {
			return m.AddEntityType(ctx, "Person", domain.EntityType{Label: "Person"}, "", "")
		},
		func() error {
			return m.AddRelationType(ctx, "KNOWS", domain.RelationType{
				FromTypes: []string{"Person"}, ToTypes: []string{"Person"},
			}, "", "")
		},
		func() error { return m.RemoveRelationType(ctx, "KNOWS", "", "") },
	}
	for i, mutate := range mutations {
		if err := mutate(); err != nil {
			t.Fatalf("mutation %d failed: %v", i, err)
		}
		version, _ := m.Version(ctx)
		if version != want[i] {
			t.Errorf("after mutation %d expected version %s, got %s", i, want[i], version)
		}
	}
}

func TestRemoveUnknownTypes(t *testing.T) {
	m, _ := newTestManager(t, &mockSchemaStore{})
	ctx := context.Background()

	if err := m.RemoveEntityType(ctx, "Ghost", "", ""); !errors.Is(err, ErrUnknownEntityType) {
		t.Errorf("expected ErrUnknownEntityType, got %v", err)
	}
	if err := m.RemoveRelationType(ctx, "HAUNTS", "", ""); !errors.Is(err, ErrUnknownRelationType) {
		t.Errorf("expected ErrUnknownRelationType, got %v", err)
	}
}

func TestUpdateSchemaMergesAndReplacesRules(t *testing.T) {
	remote := &mockSchemaStore{schema: schemaWithEntity("1.0", "Person")}
	m, changeLog := newTestManager(t, remote)
	ctx := context.Background()

	rules := []domain.InferenceRule{{Name: "r1", Action: "noop", Enabled: true}}
	updated, err := m.UpdateSchema(ctx, SchemaPatch{
		Entities: map[string]domain.EntityType{
			"Project": {Label: "Project"},
		},
		InferenceRules: rules,
	}, "tester", "add project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !updated.HasEntityType("Person") || !updated.HasEntityType("Project") {
		t.Error("expected merged schema to keep Person and gain Project")
	}
	if len(updated.InferenceRules) != 1 || updated.InferenceRules[0].Name != "r1" {
		t.Errorf("expected inference rules replaced, got %v", updated.InferenceRules)
	}

	// A patch with nil rules leaves the rule list alone.
	updated, err = m.UpdateSchema(ctx, SchemaPatch{
		Entities: map[string]domain.EntityType{"Team": {Label: "Team"}},
	}, "tester", "add team")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.InferenceRules) != 1 {
		t.Errorf("expected inference rules untouched, got %v", updated.InferenceRules)
	}

	entry := changeLog.last()
	if entry.ChangeType != domain.ChangeVersionBump {
		t.Errorf("expected version_bump entry, got %s", entry.ChangeType)
	}
}

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	remote := &mockSchemaStore{svErr: errors.New("remote down")}
	m, _ := newTestManager(t, remote)
	ctx := context.Background()

	if err := m.AddEntityType(ctx, "Person", domain.EntityType{Label: "Person"}, "", ""); err != nil {
		t.Fatalf("mutation should survive a persistence failure, got %v", err)
	}
	s, _ := m.Schema(ctx)
	if !s.HasEntityType("Person") {
		t.Error("expected in-memory schema advanced despite persistence failure")
	}
}

func TestReloadBeforeFirstUse(t *testing.T) {
	// A change notification can arrive before any read has triggered the
	// initial load, including one for a deleted schema row. Reload must leave
	// a usable schema behind in every case.
	t.Run("empty remote", func(t *testing.T) {
		m, _ := newTestManager(t, &mockSchemaStore{})

		if err := m.Reload(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		version, err := m.Version(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if version != "1.0" {
			t.Errorf("expected empty schema at version 1.0, got %s", version)
		}
	})

	t.Run("remote error", func(t *testing.T) {
		m, _ := newTestManager(t, &mockSchemaStore{getErr: errors.New("remote down")})

		if err := m.Reload(context.Background()); err == nil {
			t.Fatal("expected reload error")
		}
		s, err := m.Schema(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Version != "1.0" {
			t.Errorf("expected empty schema at version 1.0, got %s", s.Version)
		}
	})
}

func TestReloadReplacesInMemorySchema(t *testing.T) {
	remote := &mockSchemaStore{schema: schemaWithEntity("1.0", "Person")}
	m, _ := newTestManager(t, remote)
	ctx := context.Background()

	if _, err := m.Schema(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Another process writes a newer schema.
	remote.mu.Lock()
	remote.schema = schemaWithEntity("4.0", "Person", "Project")
	remote.mu.Unlock()

	if err := m.Reload(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	version, _ := m.Version(ctx)
	if version != "4.0" {
		t.Errorf("expected reloaded version 4.0, got %s", version)
	}
}

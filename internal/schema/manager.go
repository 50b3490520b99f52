package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ontoloom/ontoloom/internal/domain"
	"github.com/ontoloom/ontoloom/internal/store"
	"go.uber.org/zap"
)

var (
	ErrUnknownEntityType   = errors.New("unknown entity type")
	ErrUnknownRelationType = errors.New("unknown relation type")
)

// push timeout for the fire-and-forget file-wins reconciliation write
const remotePushTimeout = 30 * time.Second

// Manager owns the live schema. It loads from the remote store reconciled
// against a local file backup, serves validation and pattern matching, and is
// the only component allowed to mutate the schema.
type Manager struct {
	remote    domain.SchemaStore
	changeLog domain.ChangeLogStore
	file      *FileStore
	logger    *zap.Logger
	strict    bool

	// Cached initialization future: every read and mutation awaits the first
	// load instead of racing it.
	loadOnce sync.Once
	loadErr  error

	mu     sync.RWMutex
	schema *domain.Schema
}

// NewManager creates a schema manager. file may be nil when no local backup
// is configured.
func NewManager(remote domain.SchemaStore, changeLog domain.ChangeLogStore, file *FileStore, logger *zap.Logger) *Manager {
	return &Manager{
		remote:    remote,
		changeLog: changeLog,
		file:      file,
		logger:    logger,
	}
}

// SetStrict makes unknown-type validation a hard error instead of a
// structured result. Used to surface schema drift during development.
func (m *Manager) SetStrict(strict bool) {
	m.strict = strict
}

// ready loads the schema exactly once; concurrent callers block on the same
// load and observe its result.
func (m *Manager) ready(ctx context.Context) error {
	m.loadOnce.Do(func() {
		m.loadErr = m.load(ctx)
	})
	return m.loadErr
}

func (m *Manager) load(ctx context.Context) error {
	var remoteSchema *domain.Schema
	remoteSchema, err := m.remote.Get(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("remote schema load failed, falling back to file backup", zap.Error(err))
		}
		remoteSchema = nil
	}

	var fileSchema *domain.Schema
	if m.file != nil {
		fileSchema, err = m.file.Load()
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Warn("schema file backup unreadable", zap.Error(err))
			}
			fileSchema = nil
		}
	}

	chosen := remoteSchema
	if fileSchema != nil && fileWins(fileSchema, remoteSchema) {
		chosen = fileSchema
		m.logger.Info("file backup is authoritative, loading from file",
			zap.String("file_version", fileSchema.Version))
		m.pushToRemote(fileSchema)
	}
	if chosen == nil {
		m.logger.Info("no stored schema found, starting with empty schema")
		chosen = domain.NewSchema()
	}
	chosen.Normalize()

	m.mu.Lock()
	m.schema = chosen
	m.mu.Unlock()

	m.logger.Info("schema loaded",
		zap.String("version", chosen.Version),
		zap.Int("entity_types", len(chosen.EntityTypes)),
		zap.Int("relation_types", len(chosen.RelationTypes)))
	return nil
}

// fileWins implements the "file wins" reconciliation heuristic: the file is
// authoritative when its version is greater, when the remote lost its
// relation types while the file still has some, or on a version tie when the
// file carries strictly more entity types.
func fileWins(file, remote *domain.Schema) bool {
	if remote == nil {
		return true
	}
	cmp := domain.CompareVersionStrings(file.Version, remote.Version)
	if cmp > 0 {
		return true
	}
	if len(remote.RelationTypes) == 0 && len(file.RelationTypes) > 0 {
		return true
	}
	if cmp == 0 && len(file.EntityTypes) > len(remote.EntityTypes) {
		return true
	}
	return false
}

// pushToRemote asynchronously writes the file-backup schema to the remote
// store. Failures are logged and otherwise ignored.
func (m *Manager) pushToRemote(s *domain.Schema) {
	snapshot := s.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remotePushTimeout)
		defer cancel()
		if err := m.remote.Save(ctx, snapshot); err != nil {
			m.logger.Warn("failed to push file backup to remote store", zap.Error(err))
			return
		}
		m.logger.Info("pushed file backup schema to remote store", zap.String("version", snapshot.Version))
	}()
}

// Reload re-reads the schema from the remote store, replacing the in-memory
// copy. Used by the sync coordinator after remote change notifications.
func (m *Manager) Reload(ctx context.Context) error {
	// Consume the initialization future so a reload before first use counts
	// as the first load. Readers then skip load(), so the schema must be
	// non-nil by the time Reload returns, whatever the remote said.
	m.loadOnce.Do(func() {})
	defer m.ensureSchema()

	remoteSchema, err := m.remote.Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reload schema: %w", err)
	}
	remoteSchema.Normalize()

	m.mu.Lock()
	m.schema = remoteSchema
	m.mu.Unlock()

	m.logger.Info("schema reloaded from remote store", zap.String("version", remoteSchema.Version))
	return nil
}

// ensureSchema installs an empty schema when nothing has been loaded yet.
func (m *Manager) ensureSchema() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schema == nil {
		m.schema = domain.NewSchema()
	}
}

// Schema returns a deep copy of the current schema.
func (m *Manager) Schema(ctx context.Context) (*domain.Schema, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema.Clone(), nil
}

// Version returns the current schema version string.
func (m *Manager) Version(ctx context.Context) (string, error) {
	if err := m.ready(ctx); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema.Version, nil
}

// SchemaStats counts what the schema currently defines.
type SchemaStats struct {
	Version        string `json:"version"`
	EntityTypes    int    `json:"entity_types"`
	RelationTypes  int    `json:"relation_types"`
	QueryPatterns  int    `json:"query_patterns"`
	InferenceRules int    `json:"inference_rules"`
}

// Stats summarizes the current schema for the status surface.
func (m *Manager) Stats(ctx context.Context) (*SchemaStats, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &SchemaStats{
		Version:        m.schema.Version,
		EntityTypes:    len(m.schema.EntityTypes),
		RelationTypes:  len(m.schema.RelationTypes),
		QueryPatterns:  len(m.schema.QueryPatterns),
		InferenceRules: len(m.schema.InferenceRules),
	}, nil
}

// SchemaPatch is a partial schema update. Nil maps are left untouched; a
// non-nil InferenceRules replaces the rule list.
type SchemaPatch struct {
	Entities       map[string]domain.EntityType   `json:"entities,omitempty"`
	Relations      map[string]domain.RelationType `json:"relations,omitempty"`
	QueryPatterns  map[string]domain.QueryPattern `json:"query_patterns,omitempty"`
	InferenceRules []domain.InferenceRule         `json:"inference_rules,omitempty"`
}

// UpdateSchema merges a partial update into the schema, bumps the minor
// version, persists to the remote store and the file backup, and appends a
// version_bump change-log entry. Persistence failures degrade gracefully: the
// in-memory schema is still advanced and the failure is logged.
func (m *Manager) UpdateSchema(ctx context.Context, patch SchemaPatch, userID, reason string) (*domain.Schema, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.schema.Clone()
	for name, et := range patch.Entities {
		next.EntityTypes[name] = et
	}
	for name, rt := range patch.Relations {
		next.RelationTypes[name] = rt
	}
	for name, qp := range patch.QueryPatterns {
		next.QueryPatterns[name] = qp
	}
	if patch.InferenceRules != nil {
		next.InferenceRules = patch.InferenceRules
	}

	m.bumpVersionLocked(next)
	m.persistLocked(ctx, next)
	m.appendChangeLocked(ctx, &domain.ChangeLogEntry{
		ChangeType: domain.ChangeVersionBump,
		TargetType: "schema",
		TargetName: next.Version,
		Reason:     reason,
		ChangedBy:  userID,
	})

	m.schema = next
	return next.Clone(), nil
}

// AddEntityType adds or replaces one entity type and logs the change.
func (m *Manager) AddEntityType(ctx context.Context, name string, def domain.EntityType, userID, reason string) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, existed := m.schema.EntityTypes[name]

	next := m.schema.Clone()
	next.EntityTypes[name] = def
	m.bumpVersionLocked(next)
	m.persistLocked(ctx, next)

	changeType := domain.ChangeEntityAdded
	var oldDef json.RawMessage
	if existed {
		changeType = domain.ChangeEntityModified
		oldDef = mustJSON(old)
	}
	m.appendChangeLocked(ctx, &domain.ChangeLogEntry{
		ChangeType:    changeType,
		TargetType:    "entity",
		TargetName:    name,
		OldDefinition: oldDef,
		NewDefinition: mustJSON(def),
		Reason:        reason,
		ChangedBy:     userID,
	})

	m.schema = next
	return nil
}

// RemoveEntityType deletes an entity type; removing an unknown type is an
// error.
func (m *Manager) RemoveEntityType(ctx context.Context, name, userID, reason string) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, existed := m.schema.EntityTypes[name]
	if !existed {
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, name)
	}

	next := m.schema.Clone()
	delete(next.EntityTypes, name)
	m.bumpVersionLocked(next)
	m.persistLocked(ctx, next)
	m.appendChangeLocked(ctx, &domain.ChangeLogEntry{
		ChangeType:    domain.ChangeEntityRemoved,
		TargetType:    "entity",
		TargetName:    name,
		OldDefinition: mustJSON(old),
		Reason:        reason,
		ChangedBy:     userID,
	})

	m.schema = next
	return nil
}

// AddRelationType adds or replaces one relation type and logs the change.
func (m *Manager) AddRelationType(ctx context.Context, name string, def domain.RelationType, userID, reason string) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, existed := m.schema.RelationTypes[name]

	next := m.schema.Clone()
	next.RelationTypes[name] = def
	m.bumpVersionLocked(next)
	m.persistLocked(ctx, next)

	changeType := domain.ChangeRelationAdded
	var oldDef json.RawMessage
	if existed {
		changeType = domain.ChangeRelationModified
		oldDef = mustJSON(old)
	}
	m.appendChangeLocked(ctx, &domain.ChangeLogEntry{
		ChangeType:    changeType,
		TargetType:    "relation",
		TargetName:    name,
		OldDefinition: oldDef,
		NewDefinition: mustJSON(def),
		Reason:        reason,
		ChangedBy:     userID,
	})

	m.schema = next
	return nil
}

// RemoveRelationType deletes a relation type; removing an unknown type is an
// error.
func (m *Manager) RemoveRelationType(ctx context.Context, name, userID, reason string) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, existed := m.schema.RelationTypes[name]
	if !existed {
		return fmt.Errorf("%w: %s", ErrUnknownRelationType, name)
	}

	next := m.schema.Clone()
	delete(next.RelationTypes, name)
	m.bumpVersionLocked(next)
	m.persistLocked(ctx, next)
	m.appendChangeLocked(ctx, &domain.ChangeLogEntry{
		ChangeType:    domain.ChangeRelationRemoved,
		TargetType:    "relation",
		TargetName:    name,
		OldDefinition: mustJSON(old),
		Reason:        reason,
		ChangedBy:     userID,
	})

	m.schema = next
	return nil
}

// bumpVersionLocked advances the minor version and stamps LastUpdated. An
// unparsable stored version restarts at 1.0 rather than failing the mutation.
func (m *Manager) bumpVersionLocked(s *domain.Schema) {
	v, err := domain.ParseVersion(s.Version)
	if err != nil {
		m.logger.Warn("unparsable schema version, resetting", zap.String("version", s.Version))
		v = domain.Version{Major: 1, Minor: 0}
	}
	s.Version = v.BumpMinor().String()
	now := time.Now().UTC()
	s.LastUpdated = &now
}

// persistLocked writes the schema to the remote store and the file backup.
// Both writes are attempted; neither failure is fatal.
func (m *Manager) persistLocked(ctx context.Context, s *domain.Schema) {
	if err := m.remote.Save(ctx, s); err != nil {
		m.logger.Warn("failed to persist schema to remote store", zap.Error(err))
	}
	if m.file != nil {
		if err := m.file.Save(s); err != nil {
			m.logger.Warn("failed to write schema file backup", zap.Error(err))
		}
	}
}

func (m *Manager) appendChangeLocked(ctx context.Context, e *domain.ChangeLogEntry) {
	if m.changeLog == nil {
		return
	}
	if err := m.changeLog.Append(ctx, e); err != nil {
		m.logger.Warn("failed to append schema change log entry",
			zap.String("change_type", string(e.ChangeType)),
			zap.String("target", e.TargetName),
			zap.Error(err))
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

package offline

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// LedgerStoreName keys the persisted ledger.
const LedgerStoreName = "dominotes-sync-storage"

// MergePolicy decides what happens when a change is added for a key that already has one.
type MergePolicy string

const (
	// MergeOverwrite replaces the entry with the latest change, whatever came before.
	MergeOverwrite MergePolicy = "overwrite"
	// MergeCoalesce keeps an unsynced create as a create and cancels it on delete.
	MergeCoalesce MergePolicy = "coalesce"
)

// ParseMergePolicy maps a configured name onto a policy. Empty selects overwrite.
func ParseMergePolicy(value string) (MergePolicy, error) {
	switch MergePolicy(value) {
	case "", MergeOverwrite:
		return MergeOverwrite, nil
	case MergeCoalesce:
		return MergeCoalesce, nil
	default:
		return "", fmt.Errorf("offline: unknown merge policy %q", value)
	}
}

// LedgerStorage persists a full ledger snapshot.
type LedgerStorage interface {
	Load(ctx context.Context) ([]PendingChange, error)
	Save(ctx context.Context, changes []PendingChange) error
}

type LedgerConfig struct {
	Storage     LedgerStorage
	MergePolicy MergePolicy
	Logger      *zap.Logger
}

type ledgerBucket struct {
	order   []string
	entries map[string]PendingChange
}

func newLedgerBucket() *ledgerBucket {
	return &ledgerBucket{entries: make(map[string]PendingChange)}
}

func (b *ledgerBucket) put(change PendingChange) {
	if _, ok := b.entries[change.EntityID]; !ok {
		b.order = append(b.order, change.EntityID)
	}
	b.entries[change.EntityID] = change
}

func (b *ledgerBucket) remove(entityID string) bool {
	if _, ok := b.entries[entityID]; !ok {
		return false
	}
	delete(b.entries, entityID)
	for index, id := range b.order {
		if id == entityID {
			b.order = append(b.order[:index], b.order[index+1:]...)
			break
		}
	}
	return true
}

func (b *ledgerBucket) clone() *ledgerBucket {
	copied := &ledgerBucket{
		order:   append([]string(nil), b.order...),
		entries: make(map[string]PendingChange, len(b.entries)),
	}
	for id, change := range b.entries {
		copied.entries[id] = change
	}
	return copied
}

func (b *ledgerBucket) snapshot() []PendingChange {
	result := make([]PendingChange, 0, len(b.order))
	for _, id := range b.order {
		result = append(result, b.entries[id])
	}
	return result
}

// Ledger holds at most one pending change per entity, in first-insertion order,
// and writes every mutation through to its storage.
type Ledger struct {
	mu      sync.Mutex
	storage LedgerStorage
	policy  MergePolicy
	logger  *zap.Logger
	buckets map[EntityType]*ledgerBucket
}

func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	policy, err := ParseMergePolicy(string(cfg.MergePolicy))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		storage: cfg.Storage,
		policy:  policy,
		logger:  logger,
		buckets: map[EntityType]*ledgerBucket{
			EntityNote:   newLedgerBucket(),
			EntityFolder: newLedgerBucket(),
		},
	}, nil
}

// Policy returns the merge policy in effect.
func (l *Ledger) Policy() MergePolicy {
	return l.policy
}

// Load replaces the in-memory ledger with the persisted snapshot.
func (l *Ledger) Load(ctx context.Context) error {
	if l.storage == nil {
		return nil
	}
	changes, err := l.storage.Load(ctx)
	if err != nil {
		return fmt.Errorf("offline: load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[EntityNote] = newLedgerBucket()
	l.buckets[EntityFolder] = newLedgerBucket()
	for _, change := range changes {
		if err := validateChange(change); err != nil {
			l.logger.Warn("discarding invalid persisted change",
				zap.String("entity_type", string(change.EntityType)),
				zap.String("entity_id", change.EntityID),
				zap.Error(err))
			continue
		}
		l.buckets[change.EntityType].put(change)
	}
	return nil
}

// Add records a change for (entityType, entityID) according to the merge policy.
// When the change cannot be persisted the ledger is left as it was.
func (l *Ledger) Add(ctx context.Context, entityType EntityType, entityID string, changeType ChangeType, payload Payload) error {
	change := PendingChange{EntityType: entityType, EntityID: entityID, Type: changeType, Payload: payload}
	if err := validateChange(change); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	previous := l.cloneLocked()
	bucket := l.buckets[entityType]
	existing, found := bucket.entries[entityID]
	if found && l.policy == MergeCoalesce && existing.Type == ChangeCreate {
		switch changeType {
		case ChangeUpdate:
			change.Type = ChangeCreate
		case ChangeDelete:
			bucket.remove(entityID)
			return l.persistOrRestoreLocked(ctx, previous)
		}
	}
	bucket.put(change)
	return l.persistOrRestoreLocked(ctx, previous)
}

// Remove deletes the entry for (entityType, entityID), if any.
func (l *Ledger) Remove(ctx context.Context, entityType EntityType, entityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[entityType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	previous := l.cloneLocked()
	if !bucket.remove(entityID) {
		return nil
	}
	return l.persistOrRestoreLocked(ctx, previous)
}

// Settle retires replayed once the server accepted it. An entry queued for the same key
// while the call was in flight is kept. When replayed was a create answered with serverID,
// that newer entry moves to serverID, with a create becoming an update.
func (l *Ledger) Settle(ctx context.Context, replayed PendingChange, serverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[replayed.EntityType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, replayed.EntityType)
	}
	current, found := bucket.entries[replayed.EntityID]
	if !found {
		return nil
	}
	previous := l.cloneLocked()
	switch {
	case reflect.DeepEqual(current, replayed):
		bucket.remove(replayed.EntityID)
	case replayed.Type == ChangeCreate && serverID != "" && serverID != replayed.EntityID:
		bucket.remove(replayed.EntityID)
		current.EntityID = serverID
		if current.Type == ChangeCreate {
			current.Type = ChangeUpdate
		}
		bucket.put(current)
	default:
		return nil
	}
	return l.persistOrRestoreLocked(ctx, previous)
}

// Clear empties both collections.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	previous := l.cloneLocked()
	l.buckets[EntityNote] = newLedgerBucket()
	l.buckets[EntityFolder] = newLedgerBucket()
	return l.persistOrRestoreLocked(ctx, previous)
}

// Entries returns the pending changes for entityType in ledger order.
func (l *Ledger) Entries(entityType EntityType) []PendingChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[entityType]
	if !ok {
		return nil
	}
	return bucket.snapshot()
}

// Get returns the pending change for (entityType, entityID).
func (l *Ledger) Get(entityType EntityType, entityID string) (PendingChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[entityType]
	if !ok {
		return PendingChange{}, false
	}
	change, found := bucket.entries[entityID]
	return change, found
}

// Len counts pending changes across both collections.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets[EntityNote].entries) + len(l.buckets[EntityFolder].entries)
}

func (l *Ledger) cloneLocked() map[EntityType]*ledgerBucket {
	copied := make(map[EntityType]*ledgerBucket, len(l.buckets))
	for entityType, bucket := range l.buckets {
		copied[entityType] = bucket.clone()
	}
	return copied
}

// persistOrRestoreLocked writes the ledger through, rolling memory back to previous on failure.
func (l *Ledger) persistOrRestoreLocked(ctx context.Context, previous map[EntityType]*ledgerBucket) error {
	if err := l.persistLocked(ctx); err != nil {
		l.buckets = previous
		return err
	}
	return nil
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	if l.storage == nil {
		return nil
	}
	snapshot := append(l.buckets[EntityNote].snapshot(), l.buckets[EntityFolder].snapshot()...)
	if err := l.storage.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("offline: persist ledger: %w", err)
	}
	return nil
}

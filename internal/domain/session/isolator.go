package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
	"github.com/GriffinCanCode/lobbyshell/internal/shared/id"
)

var (
	// ErrPartitionMismatch is returned for a storage message claiming a
	// partition other than the surface's own.
	ErrPartitionMismatch = errors.New("storage message from foreign partition")
	// ErrUnknownOp is returned for an unrecognised storage message.
	ErrUnknownOp = errors.New("unknown storage operation")
	// ErrInvalidPartition is returned for a partition key that is not
	// persist:<instance id>.
	ErrInvalidPartition = errors.New("invalid storage partition")
)

// preloadName identifies the storage shim among a surface's preloads.
const preloadName = "storage"

// ValidatePartition accepts only persist:<instance id> keys. Instance ids
// are fixed-length ULIDs, so no partition's key space is a prefix of
// another's and a prefix clear never crosses partitions.
func ValidatePartition(partition string) error {
	iid, ok := id.FromPartitionKey(partition)
	if !ok || !id.IsInstanceID(iid.String()) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
	}
	return nil
}

// Message is a storage write mirrored from a page.
type Message struct {
	Partition string  `json:"partition"`
	Op        string  `json:"op"`
	Key       *string `json:"key"`
	Value     *string `json:"value"`
}

// Isolator hands out namespaces and attaches them to render surfaces.
type Isolator struct {
	substrate Substrate
	logger    *zap.Logger

	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// NewIsolator creates an isolator over a shared substrate
func NewIsolator(substrate Substrate, logger *zap.Logger) *Isolator {
	if substrate == nil {
		substrate = NewMemorySubstrate()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Isolator{
		substrate:  substrate,
		logger:     logger,
		namespaces: make(map[string]*Namespace),
	}
}

// Substrate returns the shared substrate.
func (i *Isolator) Substrate() Substrate { return i.substrate }

// Namespace returns the namespace of partition, creating it on first use.
func (i *Isolator) Namespace(partition string) (*Namespace, error) {
	i.mu.RLock()
	ns, ok := i.namespaces[partition]
	i.mu.RUnlock()
	if ok {
		return ns, nil
	}
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if ns, ok := i.namespaces[partition]; ok {
		return ns, nil
	}
	ns = newNamespace(partition, i.substrate)
	i.namespaces[partition] = ns
	return ns, nil
}

// Lookup returns an existing namespace.
func (i *Isolator) Lookup(partition string) (*Namespace, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ns, ok := i.namespaces[partition]
	return ns, ok
}

// Len counts live namespaces.
func (i *Isolator) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.namespaces)
}

// Shim renders the storage replacement for partition with its persisted
// entries already in place. It is meant to be preloaded so it runs before
// any page script.
func (i *Isolator) Shim(partition string) (string, error) {
	ns, err := i.Namespace(partition)
	if err != nil {
		return "", err
	}
	return script.StorageShim(partition, ns.Entries(AreaLocal))
}

// Preload exposes the mirror binding and registers the shim for every new
// document of surface, replacing the one registered before. Call it again
// ahead of a reload so the next document starts from the current entries.
func (i *Isolator) Preload(ctx context.Context, surface browser.Surface, partition string) error {
	shim, err := i.Shim(partition)
	if err != nil {
		return err
	}
	if err := surface.ExposeBinding(ctx, script.StorageBinding); err != nil {
		return fmt.Errorf("expose storage binding: %w", err)
	}
	if err := surface.Preload(ctx, preloadName, shim); err != nil {
		return fmt.Errorf("preload storage shim: %w", err)
	}
	return nil
}

// Attach exposes the mirror binding, installs the shim in the current
// document and seeds it with the namespace's persisted entries.
func (i *Isolator) Attach(ctx context.Context, surface browser.Surface, partition string) error {
	ns, err := i.Namespace(partition)
	if err != nil {
		return err
	}

	if err := surface.ExposeBinding(ctx, script.StorageBinding); err != nil {
		return fmt.Errorf("expose storage binding: %w", err)
	}
	shim, err := script.StorageShim(partition, ns.Entries(AreaLocal))
	if err != nil {
		return err
	}
	if err := surface.ExecuteScript(ctx, shim); err != nil {
		return fmt.Errorf("install storage shim: %w", err)
	}

	seed, err := script.StorageSeed(partition, ns.Entries(AreaLocal))
	if err != nil {
		return err
	}
	if err := surface.ExecuteScript(ctx, seed); err != nil {
		return fmt.Errorf("seed storage: %w", err)
	}

	i.logger.Debug("Storage isolation attached",
		zap.String("partition", partition),
		zap.Int("seeded", ns.Len(AreaLocal)),
	)
	return nil
}

// HandleBinding applies a mirrored write received from the surface bound
// to partition.
func (i *Isolator) HandleBinding(partition, payload string) error {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("decode storage message: %w", err)
	}
	if msg.Partition != partition {
		return fmt.Errorf("%w: got %q, want %q", ErrPartitionMismatch, msg.Partition, partition)
	}

	ns, err := i.Namespace(partition)
	if err != nil {
		return err
	}
	switch msg.Op {
	case "set":
		if msg.Key == nil {
			return fmt.Errorf("%w: set without key", ErrUnknownOp)
		}
		value := ""
		if msg.Value != nil {
			value = *msg.Value
		}
		ns.SetItem(AreaLocal, *msg.Key, value)
	case "remove":
		if msg.Key == nil {
			return fmt.Errorf("%w: remove without key", ErrUnknownOp)
		}
		ns.RemoveItem(AreaLocal, *msg.Key)
	case "clear":
		ns.Clear(AreaLocal)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, msg.Op)
	}
	return nil
}

// Reset drops the per-document state of partition ahead of a reload.
func (i *Isolator) Reset(partition string) {
	if ns, ok := i.Lookup(partition); ok {
		ns.resetDocument()
	}
}

// Release forgets the namespace of a closed instance. Persisted entries
// stay in the substrate.
func (i *Isolator) Release(partition string) {
	i.mu.Lock()
	delete(i.namespaces, partition)
	i.mu.Unlock()
}

// Wipe removes every persisted entry of partition.
func (i *Isolator) Wipe(partition string) (int, error) {
	ns, err := i.Namespace(partition)
	if err != nil {
		return 0, err
	}
	return ns.Clear(AreaLocal), nil
}

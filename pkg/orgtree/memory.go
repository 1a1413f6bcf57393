package orgtree

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory with the same semantics as the
// Postgres store. Used by unit tests and embedded deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewMemoryStore creates a new in-memory org tree store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
	}
}

func copyNode(n *Node) *Node {
	dup := *n
	dup.Lineage = append([]string{}, n.Lineage...)
	if n.ParentID != nil {
		parentID := *n.ParentID
		dup.ParentID = &parentID
	}
	if n.DeactivatedAt != nil {
		at := *n.DeactivatedAt
		dup.DeactivatedAt = &at
	}
	return &dup
}

// GetNode retrieves a node by ID
func (s *MemoryStore) GetNode(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyNode(node), nil
}

// GetLineage returns the nodes on the path from root to the given node
func (s *MemoryStore) GetLineage(ctx context.Context, id string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lineage := make([]*Node, 0, len(node.Lineage))
	for _, ancestorID := range node.Lineage {
		ancestor, ok := s.nodes[ancestorID]
		if !ok {
			return nil, fmt.Errorf("lineage of %s references missing node %s", id, ancestorID)
		}
		lineage = append(lineage, copyNode(ancestor))
	}

	return lineage, nil
}

// CreateNode creates a node under the given parent
func (s *MemoryStore) CreateNode(ctx context.Context, parentID *string, kind Kind, name string) (*Node, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidHierarchy, kind)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: node name is required", ErrInvalidHierarchy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node := &Node{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if parentID == nil {
		if kind != KindOrganization {
			return nil, fmt.Errorf("%w: only organization nodes may be roots", ErrInvalidHierarchy)
		}
		node.Lineage = []string{node.ID}
	} else {
		parent, ok := s.nodes[*parentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s does not exist", ErrInvalidHierarchy, *parentID)
		}
		if !parent.Active {
			return nil, fmt.Errorf("%w: parent %s is deactivated", ErrInvalidHierarchy, *parentID)
		}
		if !parent.Kind.CanParent(kind) {
			return nil, fmt.Errorf("%w: %s cannot parent %s", ErrInvalidHierarchy, parent.Kind, kind)
		}
		pid := *parentID
		node.ParentID = &pid
		node.Lineage = append(append([]string{}, parent.Lineage...), node.ID)
	}

	s.nodes[node.ID] = node
	return copyNode(node), nil
}

// FindChild looks up a direct child of parentID by kind and name
func (s *MemoryStore) FindChild(ctx context.Context, parentID string, kind Kind, name string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, node := range s.nodes {
		if node.ParentID != nil && *node.ParentID == parentID && node.Kind == kind && node.Name == name {
			return copyNode(node), nil
		}
	}
	return nil, fmt.Errorf("%w: no %s named %q under %s", ErrNotFound, kind, name, parentID)
}

// FindRoot looks up a root organization by name
func (s *MemoryStore) FindRoot(ctx context.Context, name string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, node := range s.nodes {
		if node.ParentID == nil && node.Name == name {
			return copyNode(node), nil
		}
	}
	return nil, fmt.Errorf("%w: no organization named %q", ErrNotFound, name)
}

// Deactivate soft-deactivates a node
func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if node.Active {
		now := time.Now().UTC()
		node.Active = false
		node.DeactivatedAt = &now
	}

	return nil
}

// ListChildren returns the direct active children of a node
func (s *MemoryStore) ListChildren(ctx context.Context, id string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var children []*Node
	for _, node := range s.nodes {
		if node.ParentID != nil && *node.ParentID == id && node.Active {
			children = append(children, copyNode(node))
		}
	}
	sortNodes(children)

	return children, nil
}

// ListDescendants returns every node whose lineage contains the given node
func (s *MemoryStore) ListDescendants(ctx context.Context, id string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var descendants []*Node
	for _, node := range s.nodes {
		if node.ID == id {
			continue
		}
		if node.IsAncestorOrSelf(id) {
			descendants = append(descendants, copyNode(node))
		}
	}
	sortNodes(descendants)

	return descendants, nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}

package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"holodoc/internal/model"
	"holodoc/internal/repository"
)

type node struct {
	mu    sync.Mutex
	peers map[string]model.Link
}

// LinkMemory is an in-memory implementation of repository.LinkRepository.
// Each endpoint has its own lock; mutations take both endpoint locks in id
// order so two writers on overlapping pairs cannot deadlock.
type LinkMemory struct {
	mu    sync.Mutex
	nodes map[string]*node
}

// NewLinkMemory creates an empty LinkMemory.
func NewLinkMemory() *LinkMemory {
	return &LinkMemory{nodes: make(map[string]*node)}
}

var _ repository.LinkRepository = (*LinkMemory)(nil)

func (r *LinkMemory) node(id string, create bool) *node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok && create {
		n = &node{peers: make(map[string]model.Link)}
		r.nodes[id] = n
	}
	return n
}

// lockPair locks the nodes of a and b in ascending id order and returns the unlock func.
func lockPair(a, b string, na, nb *node) func() {
	if na == nb {
		na.mu.Lock()
		return na.mu.Unlock
	}
	first, second := na, nb
	if b < a {
		first, second = nb, na
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Add stores the edge on both endpoints unless it is already present.
func (r *LinkMemory) Add(ctx context.Context, link model.Link) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	na, nb := r.node(link.Source, true), r.node(link.Target, true)
	unlock := lockPair(link.Source, link.Target, na, nb)
	defer unlock()

	if _, ok := na.peers[link.Target]; ok {
		return false, nil
	}
	na.peers[link.Target] = link
	nb.peers[link.Source] = link
	return true, nil
}

// Remove deletes the edge from both endpoints.
func (r *LinkMemory) Remove(ctx context.Context, a, b string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	na, nb := r.node(a, false), r.node(b, false)
	if na == nil || nb == nil {
		return false, nil
	}
	unlock := lockPair(a, b, na, nb)
	defer unlock()

	if _, ok := na.peers[b]; !ok {
		return false, nil
	}
	delete(na.peers, b)
	delete(nb.peers, a)
	return true, nil
}

// Neighbors returns a sorted copy of the ids linked to id.
func (r *LinkMemory) Neighbors(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := r.node(id, false)
	if n == nil {
		return []string{}, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Sorted(maps.Keys(n.peers)), nil
}

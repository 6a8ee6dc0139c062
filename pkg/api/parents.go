package api

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// parents remembers each identity's last top-level question, the parent of
// its next rewritten question. Bounded like the conversation cache.
type parents struct {
	byUser *lru.Cache[string, string]
}

func newParents(capacity int) (*parents, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	l, err := lru.New[string, string](capacity)
	if err != nil {
		return nil, fmt.Errorf("create parent registry: %w", err)
	}
	return &parents{byUser: l}, nil
}

func (p *parents) Set(user, questionID string) {
	p.byUser.Add(user, questionID)
}

func (p *parents) Get(user string) (string, bool) {
	return p.byUser.Get(user)
}

// Forget drops user's parent if it still points at questionID.
func (p *parents) Forget(user, questionID string) {
	if cur, ok := p.byUser.Peek(user); ok && cur == questionID {
		p.byUser.Remove(user)
	}
}

func (p *parents) Clear(user string) {
	p.byUser.Remove(user)
}

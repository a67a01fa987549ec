package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// Reply is one scripted answer for a Stub.
type Reply struct {
	// Content is the JSON the model "returns".
	Content string
	Usage   Usage
	Err     error
}

// Stub is a Provider for tests and the "mock" provider setting. It
// answers with its replies in order and records the prompts it saw. Replies
// go through the same schema check as real providers.
type Stub struct {
	mu      sync.Mutex
	replies []Reply
	prompts []Prompt
}

// NewStub returns a Stub that will answer with replies in order.
func NewStub(replies ...Reply) *Stub {
	return &Stub{replies: replies}
}

func (s *Stub) Generate(_ context.Context, p Prompt) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, p)
	if len(s.replies) == 0 {
		return nil, &Error{Kind: KindUnavailable, Provider: "mock"}
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Err != nil {
		return nil, r.Err
	}

	content := json.RawMessage(r.Content)
	if err := checkContent("mock", p, content); err != nil {
		return nil, err
	}
	return &Completion{Content: content, Usage: r.Usage, Model: "mock"}, nil
}

func (s *Stub) ModelID() string { return "mock" }

// Add queues another reply.
func (s *Stub) Add(r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
}

// Prompts returns a copy of the prompts received so far.
func (s *Stub) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.prompts...)
}

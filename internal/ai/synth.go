package ai

import (
	"context"
	"fmt"
	"log/slog"

	"confeed/pkg/types"
)

// Reply is a synthesized message ready to be persisted and broadcast.
type Reply struct {
	Profile    Profile
	NewProfile bool
	Text       string
	ReplyToID  *string
}

// Synthesize produces one reply to the recent conversation. Only one call may
// be in flight pool-wide; concurrent calls fail with ErrPoolBusy. Generation
// errors are returned as is and leave the pool ready for the next cycle.
func (p *Pool) Synthesize(ctx context.Context, recent []types.ContextMessage) (*Reply, error) {
	if !p.slot.TryAcquire(1) {
		return nil, ErrPoolBusy
	}
	p.busy.Store(true)
	defer func() {
		p.busy.Store(false)
		p.slot.Release(1)
	}()

	profile, created, err := p.AcquireProfile(ctx)
	if err != nil {
		return nil, err
	}

	prompt := &Prompt{
		Personality: profile.Personality,
		Window:      lastN(recent, p.cfg.ContextWindow),
		Memory:      p.Memory(profile.IdentityID),
		ReplyTo:     p.pickReplyTarget(recent, profile.IdentityID),
	}

	resp, err := p.provider.Complete(ctx, prompt.Messages(p.counter, p.cfg.MaxContextTokens))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	text := CleanReply(resp.Content, p.cfg.MaxReplyLength)
	if text == "" {
		return nil, ErrEmptyGeneration
	}

	p.remember(profile.IdentityID, ExtractTopic(text))
	p.markResponded()

	slog.Debug("reply synthesized",
		"identity", profile.IdentityID,
		"tokens", resp.Usage.TotalTokens,
		"reply", prompt.ReplyTo != nil)

	reply := &Reply{
		Profile:    profile,
		NewProfile: created,
		Text:       text,
	}
	if prompt.ReplyTo != nil {
		id := prompt.ReplyTo.ID
		reply.ReplyToID = &id
	}
	return reply, nil
}

// pickReplyTarget returns one of the last ReplyCandidates human messages with
// ReplyProbability, or nil.
func (p *Pool) pickReplyTarget(recent []types.ContextMessage, self string) *types.ContextMessage {
	var candidates []types.ContextMessage
	for i := len(recent) - 1; i >= 0 && len(candidates) < p.cfg.ReplyCandidates; i-- {
		if recent[i].IsAI || recent[i].AuthorID == self || recent[i].ID == "" {
			continue
		}
		candidates = append(candidates, recent[i])
	}
	if len(candidates) == 0 || p.float64() >= p.cfg.ReplyProbability {
		return nil
	}
	target := candidates[p.intn(len(candidates))]
	return &target
}

func lastN(messages []types.ContextMessage, n int) []types.ContextMessage {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

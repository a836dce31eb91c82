package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"confeed/pkg/types"
)

// Sink receives the visible side of a synthetic reply. Calls come from pool
// goroutines.
type Sink interface {
	BeginTyping(profile Profile)
	EndTyping(profile Profile)
	Deliver(ctx context.Context, reply *Reply)
}

// SetSink installs the delivery target. It must be called before Offer.
func (p *Pool) SetSink(sink Sink) {
	p.sink = sink
}

// Offer hands the updated conversation to the pool after a message from
// triggerID. When the policy decides to answer, synthesis runs in the
// background followed by a typing delay; the pending reply is discarded if
// CancelPending(triggerID) or Close is called before it fires.
func (p *Pool) Offer(triggerID string, recent []types.ContextMessage) bool {
	if p.sink == nil || !p.DecideShouldRespond(recent) {
		return false
	}

	p.pendingMu.Lock()
	if p.closed {
		p.pendingMu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.nextPending++
	key := p.nextPending
	if p.pending[triggerID] == nil {
		p.pending[triggerID] = make(map[uint64]context.CancelFunc)
	}
	p.pending[triggerID][key] = cancel
	p.wg.Add(1)
	p.pendingMu.Unlock()

	snapshot := append([]types.ContextMessage(nil), recent...)
	go func() {
		defer p.wg.Done()
		defer p.finishPending(triggerID, key)
		p.respond(ctx, snapshot)
	}()
	return true
}

func (p *Pool) respond(ctx context.Context, recent []types.ContextMessage) {
	reply, err := p.Synthesize(ctx, recent)
	if err != nil {
		switch {
		case errors.Is(err, ErrPoolBusy):
			slog.Debug("synthesis skipped, pool busy")
		case errors.Is(err, context.Canceled):
			slog.Debug("synthesis cancelled")
		default:
			slog.Warn("synthesis failed", "error", err)
		}
		return
	}

	p.sink.BeginTyping(reply.Profile)
	timer := time.NewTimer(p.typingDelay())
	defer timer.Stop()

	var refresh <-chan time.Time
	if p.cfg.TypingRefresh > 0 {
		ticker := time.NewTicker(p.cfg.TypingRefresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.sink.EndTyping(reply.Profile)
			slog.Debug("pending reply discarded", "identity", reply.Profile.IdentityID)
			return
		case <-refresh:
			p.sink.BeginTyping(reply.Profile)
		case <-timer.C:
			p.sink.Deliver(ctx, reply)
			return
		}
	}
}

func (p *Pool) typingDelay() time.Duration {
	lo, hi := p.cfg.TypingDelayMin, p.cfg.TypingDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.intn(int(hi-lo)+1))
}

func (p *Pool) finishPending(triggerID string, key uint64) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	if cancel, ok := p.pending[triggerID][key]; ok {
		cancel()
		delete(p.pending[triggerID], key)
		if len(p.pending[triggerID]) == 0 {
			delete(p.pending, triggerID)
		}
	}
}

// CancelPending discards replies offered after messages from triggerID.
func (p *Pool) CancelPending(triggerID string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	for _, cancel := range p.pending[triggerID] {
		cancel()
	}
}

// Pending returns the number of offered replies not yet delivered or discarded.
func (p *Pool) Pending() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	n := 0
	for _, set := range p.pending {
		n += len(set)
	}
	return n
}

// Close discards every pending reply and waits for pool goroutines to exit.
func (p *Pool) Close() {
	p.pendingMu.Lock()
	p.closed = true
	p.pendingMu.Unlock()

	p.cancel()
	p.wg.Wait()
}

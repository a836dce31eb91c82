package ai

import "confeed/pkg/types"

// HumanStreak counts the trailing run of human-authored messages.
func HumanStreak(recent []types.ContextMessage) int {
	streak := 0
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].IsAI {
			break
		}
		streak++
	}
	return streak
}

// ShouldRespond is the response policy. roll is a uniform sample in [0,1).
// It never answers while busy, within the response cooldown or right after
// an AI message; otherwise it answers with probability 0.7, 0.5 or 0.3 for a
// human streak of at least 3, exactly 2 or exactly 1.
func ShouldRespond(recent []types.ContextMessage, busy, cooldownElapsed bool, roll float64) bool {
	if busy || !cooldownElapsed {
		return false
	}
	if len(recent) == 0 || recent[len(recent)-1].IsAI {
		return false
	}

	switch streak := HumanStreak(recent); {
	case streak >= 3:
		return roll < 0.7
	case streak == 2:
		return roll < 0.5
	case streak == 1:
		return roll < 0.3
	default:
		return false
	}
}

// DecideShouldRespond applies ShouldRespond to the pool's current state.
func (p *Pool) DecideShouldRespond(recent []types.ContextMessage) bool {
	return ShouldRespond(recent, p.Busy(), p.CooldownElapsed(), p.float64())
}

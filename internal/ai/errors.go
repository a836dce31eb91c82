package ai

import "errors"

var (
	// ErrPoolBusy is returned when a synthesis is already in flight.
	ErrPoolBusy = errors.New("ai pool busy")
	// ErrEmptyGeneration is returned when post-processing leaves no text.
	ErrEmptyGeneration = errors.New("empty generation")
	// ErrNicknameExhausted is returned when no free synthetic nickname was found.
	ErrNicknameExhausted = errors.New("no free synthetic nickname")
)

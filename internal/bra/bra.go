// Package bra implements the branch-conversion filters 7-zip applies to
// executable code before general-purpose compression, one per CPU
// architecture. Each filter rewrites CALL/JMP targets between absolute and
// instruction-relative form so that repeated target addresses compress
// better.
package bra

// converter is the per-architecture branch-rewriting algorithm a
// converterStream drives. Size reports how many look-ahead bytes Convert
// needs buffered before it can make progress at the end of a chunk.
type converter interface {
	Size() int
	Convert(b []byte, encoding bool) int
}

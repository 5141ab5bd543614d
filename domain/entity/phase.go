package entity

import (
	"chronicle/domain/events"
)

// Phase chains apply / advance-version / commit steps over one
// transaction, so a replay loop over N historical events reads as a
// straight pipeline. The first error aborts the chain; nothing applied in
// earlier steps becomes visible because the entity is only updated when
// Commit succeeds.
type Phase struct {
	tx  *Transaction
	err error
}

// Phase starts a phased application chain on the transaction
func (t *Transaction) Phase() *Phase {
	return &Phase{tx: t}
}

// Apply applies one event, if no earlier step failed
func (p *Phase) Apply(event events.DomainEvent) *Phase {
	if p.err == nil {
		p.err = p.tx.Apply(event)
	}
	return p
}

// Advance advances the working version by exactly one
func (p *Phase) Advance() *Phase {
	if p.err == nil {
		p.err = p.tx.AdvanceVersion(p.tx.Version() + 1)
	}
	return p
}

// AdvanceTo advances the working version to the given value
func (p *Phase) AdvanceTo(version int) *Phase {
	if p.err == nil {
		p.err = p.tx.AdvanceVersion(version)
	}
	return p
}

// Err returns the first error encountered in the chain
func (p *Phase) Err() error {
	return p.err
}

// Commit commits the transaction if the chain is clean; otherwise it
// discards the transaction and returns the pending error.
func (p *Phase) Commit() error {
	if p.err != nil {
		p.tx.Discard()
		return p.err
	}
	return p.tx.Commit()
}

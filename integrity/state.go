package integrity

import "bastion/core"

// State is the per-path position in the baseline/drift lifecycle
type State int

const (
	// Unseen means the store holds no record for the path
	Unseen State = iota
	// Baselined means a record was just created from the observed digest
	Baselined
	// Matching means the digest equals the baseline or the last reported digest
	Matching
	// Drifted means the digest differs from both stored digests
	Drifted
)

// String returns the string representation
func (s State) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Baselined:
		return "baselined"
	case Matching:
		return "matching"
	case Drifted:
		return "drifted"
	default:
		return "unknown"
	}
}

// Evaluate returns the state a path moves to when digest is observed against
// the stored record. found reports whether a record exists.
//
// A digest that equals either the baseline or the last reported digest never
// alerts, so each distinct content value raises at most one drift.
func Evaluate(digest string, rec core.FileBaseline, found bool) State {
	if !found {
		return Baselined
	}
	if digest == rec.Baseline || digest == rec.Current {
		return Matching
	}
	return Drifted
}

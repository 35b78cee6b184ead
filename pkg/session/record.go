package session

// MaxArchivedStates bounds how many previous SessionStates a record keeps
// as fallback candidates. spec.md does not name a number for this (only
// receiver chains get an explicit bound), but an unbounded archive is an
// easy memory-exhaustion vector for a peer who keeps rotating; libsignal's
// reference implementation uses the same bound.
const MaxArchivedStates = 40

// SessionRecord holds one current SessionState plus an ordered sequence of
// archived states, most recent first (spec.md §3).
type SessionRecord struct {
	CurrentState *SessionState
	// PreviousStates are fallback candidates only; never authoritative
	// for encryption.
	PreviousStates []*SessionState
}

// NewFreshRecord returns an empty record, used by decrypt_prekey when no
// record exists yet for the sender (spec.md §4.F.4 step 1).
func NewFreshRecord() *SessionRecord {
	return &SessionRecord{}
}

// ArchiveCurrentState moves the current state to the head of the archive
// and clears it, so a new SessionState can become current. This is used by
// the prekey-agreement collaborator when a fresh X3DH exchange supersedes
// whatever session previously existed for the peer; the record-level
// decryptor promotes a successful archived state through promote instead.
func (r *SessionRecord) ArchiveCurrentState() {
	if r.CurrentState == nil {
		return
	}
	r.PreviousStates = append([]*SessionState{r.CurrentState}, r.PreviousStates...)
	if len(r.PreviousStates) > MaxArchivedStates {
		r.PreviousStates = r.PreviousStates[:MaxArchivedStates]
	}
	r.CurrentState = nil
}

// promote removes the state at idx from PreviousStates, archives whatever
// is currently current (if anything), and installs updated as the new
// current state. This implements spec.md §4.E step 2's "promote this
// archived state to current, moving the formerly-current state into the
// archive head".
func (r *SessionRecord) promote(idx int, updated *SessionState) {
	rest := make([]*SessionState, 0, len(r.PreviousStates))
	rest = append(rest, r.PreviousStates[:idx]...)
	rest = append(rest, r.PreviousStates[idx+1:]...)

	if r.CurrentState != nil {
		rest = append([]*SessionState{r.CurrentState}, rest...)
	}
	if len(rest) > MaxArchivedStates {
		rest = rest[:MaxArchivedStates]
	}

	r.PreviousStates = rest
	r.CurrentState = updated
}

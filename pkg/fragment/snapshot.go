package fragment

// Snapshot is the full state of a scope: the root fragment followed by one
// add fragment per reachable object, parents before children.
type Snapshot struct {
	Root      *SyncFragment   `json:"rootFragment"`
	Fragments []*SyncFragment `json:"fragments"`
}

// Len returns the number of objects the snapshot describes, root included.
func (s *Snapshot) Len() int {
	if s == nil || s.Root == nil {
		return 0
	}
	return 1 + len(s.Fragments)
}

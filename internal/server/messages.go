package server

import (
	"encoding/json"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Message types on the wire.
const (
	TypeScopeState = "ScopeState"
	TypeScopeSync  = "ScopeSync"
	TypeReply      = "Reply"
)

// ScopeStateMessage carries a full snapshot of one scope.
type ScopeStateMessage struct {
	Type         string                   `json:"type"`
	ScopeIndex   int                      `json:"scopeIndex"`
	RootFragment *fragment.SyncFragment   `json:"rootFragment"`
	Fragments    []*fragment.SyncFragment `json:"fragments"`
}

// ScopeSyncMessage carries a batch of fragments for one scope. Clients set
// Index so the reply can refer back to it.
type ScopeSyncMessage struct {
	Type       string                   `json:"type"`
	Index      *int                     `json:"index,omitempty"`
	ScopeIndex int                      `json:"scopeIndex"`
	Fragments  []*fragment.SyncFragment `json:"fragments"`
}

// ReplyMessage answers the message whose index is ReplyTo.
type ReplyMessage struct {
	Type     string `json:"type"`
	Index    int    `json:"index"`
	ReplyTo  int    `json:"replyTo"`
	Response any    `json:"response"`
}

// SyncResponse lists one result per fragment of an applied batch.
type SyncResponse struct {
	Results []types.Result `json:"results"`
}

// FailureResponse reports a batch that was not applied at all.
type FailureResponse struct {
	Result bool         `json:"result"`
	Error  *types.Error `json:"error"`
}

// inbound is the envelope every client message is first decoded into.
// Fragments stay raw until the type is known.
type inbound struct {
	Type       string          `json:"type"`
	Index      *int            `json:"index"`
	ScopeIndex *int            `json:"scopeIndex"`
	Fragments  json.RawMessage `json:"fragments"`
}

// decodedBatch is a batch decoded one fragment at a time. A fragment that
// failed validation leaves a nil slot in fragments and its error at the same
// position of rejected.
type decodedBatch struct {
	fragments []*fragment.SyncFragment
	rejected  []error
}

// decodeFragments fails only when raw is missing or is not a JSON array.
func decodeFragments(raw json.RawMessage) (decodedBatch, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decodedBatch{}, types.ErrInvalidFragment.Withf("missing fragments")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return decodedBatch{}, types.ErrInvalidFragment.Withf("fragments: %v", err)
	}
	b := decodedBatch{
		fragments: make([]*fragment.SyncFragment, len(items)),
		rejected:  make([]error, len(items)),
	}
	for i, item := range items {
		f := new(fragment.SyncFragment)
		if err := f.UnmarshalJSON(item); err != nil {
			b.rejected[i] = err
			continue
		}
		b.fragments[i] = f
	}
	return b, nil
}

// valid returns the fragments that decoded, in order.
func (b decodedBatch) valid() []*fragment.SyncFragment {
	out := make([]*fragment.SyncFragment, 0, len(b.fragments))
	for i, f := range b.fragments {
		if b.rejected[i] == nil {
			out = append(out, f)
		}
	}
	return out
}

// results lines applied, the results for valid(), up with the whole batch.
func (b decodedBatch) results(applied []types.Result) []types.Result {
	out := make([]types.Result, len(b.fragments))
	next := 0
	for i, err := range b.rejected {
		if err != nil {
			out[i] = types.ResultFromError(err)
			continue
		}
		out[i] = applied[next]
		next++
	}
	return out
}

// Package snapshot defines the serializable projection of a single
// execution's mutable state.
//
// A snapshot is produced on pause, cancellation, error, and completion,
// and consumed to resume an execution or to re-execute a sub-range of
// the graph from an arbitrary block using cached upstream outputs. The
// shape {blockStates, executedBlocks, pendingQueue, remainingEdges,
// loopScopes, failedLoops, metadata} round-trips losslessly through
// JSON; runtime
// values carry their cty type alongside the encoded value so decoding
// restores them exactly.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Value is a cty.Value frozen with its type so it survives JSON.
type Value struct {
	Type  json.RawMessage `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeValue freezes a runtime value. Null and nil values encode to
// the zero Value.
func EncodeValue(v cty.Value) (*Value, error) {
	if v == cty.NilVal {
		return nil, nil
	}
	ty, err := ctyjson.MarshalType(v.Type())
	if err != nil {
		return nil, err
	}
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, err
	}
	return &Value{Type: ty, Value: raw}, nil
}

// Decode restores the runtime value. A nil receiver decodes to
// cty.NilVal.
func (v *Value) Decode() (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	ty, err := ctyjson.UnmarshalType(v.Type)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(v.Value, ty)
}

// BlockState is the frozen per-block execution state.
type BlockState struct {
	Status    string     `json:"status"`
	Output    *Value     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	EndedAt   time.Time  `json:"ended_at,omitzero"`
	Iteration int        `json:"iteration,omitempty"`
	Branch    int        `json:"branch,omitempty"`
}

// Edge identifies one not-yet-fired compiled edge.
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// LoopScope is the frozen state of one active loop container.
type LoopScope struct {
	LoopID           string   `json:"loop_id"`
	Mode             string   `json:"mode"`
	Index            int      `json:"index"`
	Total            int      `json:"total"`
	Items            []*Value `json:"items,omitempty"`
	Results          []*Value `json:"results,omitempty"`
	FailedIterations []int    `json:"failed_iterations,omitempty"`
}

// Metadata identifies the execution the snapshot belongs to.
type Metadata struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	Trigger     string    `json:"trigger,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Input       *Value    `json:"input,omitempty"`
	OutputBlock string    `json:"output_block,omitempty"`
}

// Snapshot is the complete serializable execution state. FailedLoops
// lists loops whose current iteration absorbed a member failure under
// continue-on-error that the loop end has not yet recorded.
type Snapshot struct {
	Metadata       Metadata              `json:"metadata"`
	BlockStates    map[string]BlockState `json:"block_states"`
	ExecutedBlocks []string              `json:"executed_blocks"`
	PendingQueue   []string              `json:"pending_queue"`
	RemainingEdges []Edge                `json:"remaining_edges"`
	LoopScopes     map[string]LoopScope  `json:"loop_scopes"`
	FailedLoops    []string              `json:"failed_loops,omitempty"`
}

// Encode serializes the snapshot for persistence.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode deserializes a persisted snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

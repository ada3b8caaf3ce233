// ABOUTME: Agent and Registry data types shared by discovery and its collaborators.
// ABOUTME: Defines the persisted registry document schema and id allocation.

package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AgentStatus is the derived liveness state of a tracked agent.
type AgentStatus string

const (
	// StatusActive means the agent was observed within the stale threshold.
	StatusActive AgentStatus = "active"
	// StatusStale means the agent's pane is still present but the agent has
	// not been observed within the stale threshold.
	StatusStale AgentStatus = "stale"
)

// idPrefix is the prefix of every allocated agent identifier.
const idPrefix = "agent-"

// Agent is one discovered worker process, addressable via its pane location.
//
// ID is stable for as long as the same process occupies the same pane. If the
// pane is recycled by a different process the old id is retired, never reused.
// The JSON field names are a compatibility surface read directly by other
// tools; they must not change.
type Agent struct {
	ID          string      `json:"id"`
	Location    string      `json:"location"`
	ProcessID   int         `json:"process_id"`
	Status      AgentStatus `json:"status"`
	LastSeen    time.Time   `json:"last_seen"`
	SessionName string      `json:"session_name"`
}

// Registry is the persisted snapshot of all known agents plus metadata.
//
// NextIDCounter is the count of ids ever allocated in this registry's
// history. It is persisted explicitly rather than inferred from the agent
// list so that retired id numbers are never handed out again after all
// current agents disappear.
type Registry struct {
	SessionName   string    `json:"session_name"`
	UpdatedAt     time.Time `json:"updated_at"`
	NextIDCounter int       `json:"next_id_counter"`
	Agents        []Agent   `json:"agents"`
}

// New returns an empty registry for the given session.
func New(sessionName string) *Registry {
	return &Registry{
		SessionName: sessionName,
		Agents:      []Agent{},
	}
}

// AllocateID returns the next unused agent id and advances the counter.
func (r *Registry) AllocateID() string {
	id := fmt.Sprintf("%s%d", idPrefix, r.NextIDCounter)
	r.NextIDCounter++
	return id
}

// Lookup returns the agent with the given id, or nil if not present.
func (r *Registry) Lookup(id string) *Agent {
	for i := range r.Agents {
		if r.Agents[i].ID == id {
			return &r.Agents[i]
		}
	}
	return nil
}

// Active returns the agents currently marked active, in registry order.
func (r *Registry) Active() []Agent {
	out := []Agent{}
	for _, a := range r.Agents {
		if a.Status == StatusActive {
			out = append(out, a)
		}
	}
	return out
}

// normalizeCounter raises NextIDCounter above every id number present in the
// agent list. Registry files written before the counter field existed would
// otherwise restart allocation at zero once their agents disappear.
func (r *Registry) normalizeCounter() {
	for _, a := range r.Agents {
		n, ok := idNumber(a.ID)
		if ok && n >= r.NextIDCounter {
			r.NextIDCounter = n + 1
		}
	}
}

// idNumber extracts the numeric suffix of an allocated agent id.
func idNumber(id string) (int, bool) {
	rest, found := strings.CutPrefix(id, idPrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

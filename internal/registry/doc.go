// Package registry defines the persisted agent registry document and its
// file-backed store.
//
// # Document
//
// The registry is a single JSON file describing every known agent in one
// working directory:
//
//	{
//	  "session_name": "crew",
//	  "updated_at": "2026-08-28T10:15:00Z",
//	  "next_id_counter": 3,
//	  "agents": [
//	    {
//	      "id": "agent-0",
//	      "location": "crew:1.1",
//	      "process_id": 4242,
//	      "status": "active",
//	      "last_seen": "2026-08-28T10:15:00Z",
//	      "session_name": "crew"
//	    }
//	  ]
//	}
//
// The field names and types are a compatibility surface: messaging, locking,
// and monitoring tools read this file directly and must keep working across
// versions.
//
// # Location
//
// The file lives at .crewmux/registry.json relative to the invoking
// process's working directory. The path is deliberately not configurable so
// every collaborator in a working directory resolves the same registry.
//
// # Atomicity
//
// Store.Write serializes to a temporary file in the same directory and
// renames it over the target. The rename is the linearization point for
// concurrent writers; readers never observe partial content. Writes carrying
// an updated_at older than the one on disk are discarded with
// ErrSnapshotSuperseded so updated_at is monotonically non-decreasing.
//
// # Id allocation
//
// Ids are allocated as agent-0, agent-1, ... from next_id_counter, which is
// persisted rather than recomputed from the agent list. Recomputing would
// reuse retired numbers after all agents of a range disappear, silently
// rebinding an old id to an unrelated process.
package registry

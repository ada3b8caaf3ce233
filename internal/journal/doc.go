// Package journal records discovery cycles to a local SQLite database so
// operators can see what discovery has been doing over time: how many agents
// each cycle saw, allocated, or dropped, and which cycles failed. Recording
// is optional and off by default.
package journal

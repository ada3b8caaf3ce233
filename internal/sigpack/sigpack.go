// ABOUTME: Signature packs describing known worker-process command lines.
// ABOUTME: Provides the matcher that classifies pane inventory entries as agents.

package sigpack

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Signature is one named worker-process signature: any command whose
// basename matches an entry in Commands classifies as this agent kind.
type Signature struct {
	Name     string   `toml:"name"`
	Commands []string `toml:"commands"`
}

// Pack is a collection of signatures loaded together.
type Pack struct {
	ID         string      `toml:"id"`
	Signatures []Signature `toml:"signature"`
}

// LoadFile reads a signature pack from a TOML file.
//
// Pack file format:
//
//	id = "site-workers"
//
//	[[signature]]
//	name = "indexer"
//	commands = ["indexer", "indexer-worker"]
func LoadFile(path string) (Pack, error) {
	var pack Pack
	if _, err := toml.DecodeFile(path, &pack); err != nil {
		return Pack{}, fmt.Errorf("parsing signature pack %s: %w", path, err)
	}
	if pack.ID == "" {
		pack.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return pack, nil
}

// Matcher classifies command lines against a merged signature set. It is a
// pure lookup structure; matching is deterministic and case-insensitive.
type Matcher struct {
	byCommand map[string]string // lowercased command basename -> signature name
}

// NewMatcher merges the given packs into one matcher. Later packs win on
// command collisions, letting user packs override builtin names.
func NewMatcher(packs ...Pack) *Matcher {
	m := &Matcher{byCommand: make(map[string]string)}
	for _, pack := range packs {
		for _, sig := range pack.Signatures {
			name := sig.Name
			for _, cmd := range sig.Commands {
				cmd = strings.ToLower(strings.TrimSpace(cmd))
				if cmd == "" {
					continue
				}
				if name == "" {
					m.byCommand[cmd] = cmd
				} else {
					m.byCommand[cmd] = name
				}
			}
		}
	}
	return m
}

// AddCommands registers extra ad-hoc signatures, each its own name.
func (m *Matcher) AddCommands(commands ...string) {
	for _, cmd := range commands {
		cmd = strings.ToLower(strings.TrimSpace(cmd))
		if cmd != "" {
			m.byCommand[cmd] = cmd
		}
	}
}

// Match reports whether a pane command line belongs to a known worker
// signature, returning the signature name. The basename of each whitespace
// token is compared so both "worker" and "/usr/local/bin/worker --serve"
// classify.
func (m *Matcher) Match(commandLine string) (string, bool) {
	for _, token := range strings.Fields(commandLine) {
		base := strings.ToLower(filepath.Base(token))
		if name, ok := m.byCommand[base]; ok {
			return name, true
		}
	}
	return "", false
}

// Size returns the number of distinct commands the matcher recognizes.
func (m *Matcher) Size() int {
	return len(m.byCommand)
}

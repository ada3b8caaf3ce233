// ABOUTME: Builtin signature pack for the commonly deployed coding agents.
// ABOUTME: Keeps out-of-the-box discovery working without any pack files.

package sigpack

// Builtin returns the signature pack shipped with crewmux. It covers the
// agent CLIs commonly run inside shared tmux sessions; deployments with
// other workers extend it through pack files or config.
func Builtin() Pack {
	return Pack{
		ID: "builtin",
		Signatures: []Signature{
			{Name: "claude", Commands: []string{"claude"}},
			{Name: "codex", Commands: []string{"codex"}},
			{Name: "opencode", Commands: []string{"opencode"}},
			{Name: "amp", Commands: []string{"amp"}},
			{Name: "gemini", Commands: []string{"gemini"}},
			{Name: "aider", Commands: []string{"aider"}},
		},
	}
}

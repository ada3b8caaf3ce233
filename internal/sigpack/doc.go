// Package sigpack classifies pane commands against signature packs.
//
// A signature pack is a named set of worker command signatures. The builtin
// pack recognizes the common coding agents; additional packs load from TOML
// files and ad-hoc commands come from configuration, so new worker kinds
// never require caller changes.
package sigpack

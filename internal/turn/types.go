// Package turn implements TurnDetector: pure classification of the
// numbered markdown files that make up a task conversation.
package turn

import "time"

// Kind classifies the authorship and state of a TurnFile.
type Kind string

const (
	KindBackend Kind = "backend"
	KindUser    Kind = "user"
	KindEdited  Kind = "edited"
)

const backendHeader = "<!-- CLAUDE-RESPONSE -->"

// File describes one numbered markdown file in a task directory.
type File struct {
	Path    string
	Name    string
	Prefix  int
	ModTime time.Time
}

package models

// PermissionLevel is a collaborator's role on one document.
type PermissionLevel string

const (
	PermissionViewer PermissionLevel = "viewer"
	PermissionEditor PermissionLevel = "editor"
	PermissionOwner  PermissionLevel = "owner"
)

func (p PermissionLevel) Valid() bool {
	switch p {
	case PermissionViewer, PermissionEditor, PermissionOwner:
		return true
	}
	return false
}

// PermissionSet is an explicit allow-list of levels. Checks are membership tests,
// never comparisons between levels.
type PermissionSet map[PermissionLevel]struct{}

func NewPermissionSet(levels ...PermissionLevel) PermissionSet {
	set := make(PermissionSet, len(levels))
	for _, level := range levels {
		set[level] = struct{}{}
	}
	return set
}

func (s PermissionSet) Allows(level PermissionLevel) bool {
	_, ok := s[level]
	return ok
}

var (
	// ReadAccess is required to join a document room
	ReadAccess = NewPermissionSet(PermissionViewer, PermissionEditor, PermissionOwner)
	// WriteAccess is required to change document content
	WriteAccess = NewPermissionSet(PermissionEditor, PermissionOwner)
)

package actor

import (
	"fmt"
	"strings"

	"github.com/Method-Security/bioma/internal/db"
)

// ID addresses an actor within a (namespace, database). Tag identifies the
// actor's logical type via the tag registry, Path is an application-chosen
// hierarchical name such as "/workers/3". Two IDs are equal iff both fields
// match.
type ID struct {
	Tag  string
	Path string
}

// NewID builds an id from an explicit tag and path. Most callers should use
// IDOf instead so the tag always comes from the registry.
func NewID(tag, path string) ID {
	return ID{Tag: tag, Path: path}
}

// IDOf returns the id of the actor type S at the given path. S must have
// been registered with Register first; using an unregistered type is a
// programming error and panics.
func IDOf[S any](path string) ID {
	tag, ok := defaultRegistry.actorTag(typeOf[S]())
	if !ok {
		panic(fmt.Sprintf("actor: type %v is not registered",
			typeOf[S]()))
	}

	return ID{Tag: tag, Path: path}
}

// String renders the id as "tag:path".
func (id ID) String() string {
	return id.Tag + ":" + id.Path
}

// IsZero reports whether the id is the zero value.
func (id ID) IsZero() bool {
	return id.Tag == "" && id.Path == ""
}

// ParseID parses the "tag:path" form produced by String.
func ParseID(s string) (ID, error) {
	tag, path, ok := strings.Cut(s, ":")
	if !ok || tag == "" {
		return ID{}, fmt.Errorf("invalid actor id %q", s)
	}

	return ID{Tag: tag, Path: path}, nil
}

// ref converts the id to its storage representation.
func (id ID) ref() db.ActorRef {
	return db.ActorRef{Tag: id.Tag, Path: id.Path}
}

// idFromRef converts a storage ref back to an id.
func idFromRef(ref db.ActorRef) ID {
	return ID{Tag: ref.Tag, Path: ref.Path}
}

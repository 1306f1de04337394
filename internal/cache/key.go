package cache

import (
	"fmt"

	"github.com/openscripture/helpserver/internal/resource"
)

// DefaultSchema is the key-space discriminator baked into every cache key.
// Bumping it at deploy time makes invalidation a key-space change instead of
// an enumeration/delete operation: data cached under the old schema simply
// becomes unreachable.
const DefaultSchema = "v3"

// Key is the composite cache key: resource identity plus a logical kind and
// the schema discriminator. Identical logical requests always produce
// identical keys; distinct versions never collide.
type Key struct {
	Ref    resource.Ref
	Kind   string
	Schema string
}

// NewKey builds a Key for the given ref and kind under the default schema.
func NewKey(ref resource.Ref, kind string) Key {
	return Key{Ref: ref, Kind: kind, Schema: DefaultSchema}
}

// WithSchema returns a copy of the key under another schema version.
func (k Key) WithSchema(schema string) Key {
	k.Schema = schema
	return k
}

// String renders the full key-space path.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Schema, k.Kind, k.Ref)
}

package schema

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxIdentifierLength is the PostgreSQL identifier limit, one byte under MySQL's
	MaxIdentifierLength = 63

	// MaxNamespaceLength leaves at least 29 bytes for the table or constraint name when
	// the namespace is used as a physical prefix.
	MaxNamespaceLength = 32

	prefixSeparator = "__"
	suffixLength    = 8
)

// namespaceSeed is the uuid namespace hashed together with plugin ids
var namespaceSeed = uuid.MustParse("6f1b7d3e-2a59-4c0e-9a4b-5d3c1e8f7a20")

// NamespaceFor derives the schema namespace of a plugin.
//
// Plugin ids that are already lowercase identifiers map to themselves. Any other id is
// sanitized and suffixed with a hash of the raw id, so distinct ids never share a namespace.
func NamespaceFor(pluginID string) string {
	var b strings.Builder
	pendingSeparator := false
	for _, r := range strings.ToLower(pluginID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSeparator && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSeparator = false
			b.WriteRune(r)
			continue
		}
		pendingSeparator = true
	}

	ns := b.String()
	if ns != "" && ns[0] >= '0' && ns[0] <= '9' {
		ns = "p_" + ns
	}
	if ns == pluginID && len(ns) <= MaxNamespaceLength {
		return ns
	}

	sum := uuid.NewSHA1(namespaceSeed, []byte(pluginID))
	suffix := hex.EncodeToString(sum[:])[:suffixLength]
	if ns == "" {
		return "plugin_" + suffix
	}
	if limit := MaxNamespaceLength - suffixLength - 1; len(ns) > limit {
		ns = strings.TrimRight(ns[:limit], "_")
	}
	return ns + "_" + suffix
}

// NameBudget is the longest table or constraint name of namespace whose prefixed
// physical form still fits MaxIdentifierLength
func NameBudget(namespace string) int {
	if namespace == "" {
		return MaxIdentifierLength
	}
	return MaxIdentifierLength - len(namespace) - len(prefixSeparator)
}

// ShortenName fits name into limit bytes. Longer names keep a prefix and end in a hash
// of the full name, so the result is stable across runs and distinct names stay distinct.
func ShortenName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	sum := uuid.NewSHA1(namespaceSeed, []byte(name))
	suffix := hex.EncodeToString(sum[:])[:suffixLength]
	head := strings.TrimRight(name[:limit-suffixLength-1], "_")
	return head + "_" + suffix
}

// PrefixedName is the physical table name used by dialects without schemas
func PrefixedName(q QualifiedName) string {
	if q.Namespace == "" {
		return q.Name
	}
	return q.Namespace + prefixSeparator + q.Name
}

// SplitPrefixedName reverses PrefixedName. ok is false for names without a namespace prefix.
func SplitPrefixedName(physical string) (QualifiedName, bool) {
	ns, name, ok := strings.Cut(physical, prefixSeparator)
	if !ok || ns == "" || name == "" {
		return QualifiedName{Name: physical}, false
	}
	return QualifiedName{Namespace: ns, Name: name}, true
}

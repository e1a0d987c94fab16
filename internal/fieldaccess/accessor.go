package fieldaccess

import (
	"strconv"
	"strings"

	"evtxsigma/pkg/models"
)

// Accessor resolves field keys against event records using an alias table.
// It carries no per-record state; the same Accessor is shared read-only
// across every matcher goroutine.
type Accessor struct {
	aliases *AliasTable
}

// NewAccessor builds an Accessor over the given alias table. A nil table is
// valid and simply means every lookup falls through to the EventData/System
// fallback rules.
func NewAccessor(aliases *AliasTable) *Accessor {
	return &Accessor{aliases: aliases}
}

// Resolve applies the resolution order for key K:
//  1. If K contains '.', treat as a dotted path from the record root.
//  2. Otherwise look up K in the alias table; on hit, use the resolved path.
//  3. Otherwise try Event.EventData.K, then Event.System.K.
func (a *Accessor) Resolve(rec *models.EventRecord, key string) models.FieldValue {
	if rec == nil {
		return models.NoValue
	}

	if strings.Contains(key, ".") {
		return a.resolvePath(rec, key)
	}

	if dotted, ok := a.aliases.Resolve(key); ok {
		return a.resolvePath(rec, dotted)
	}

	if v := a.resolvePath(rec, "Event.EventData."+key); !v.IsMissing() {
		return v
	}
	return a.resolvePath(rec, "Event.System."+key)
}

func (a *Accessor) resolvePath(rec *models.EventRecord, dotted string) models.FieldValue {
	segments := strings.Split(dotted, ".")
	var cur interface{} = rec.Fields

	for i, seg := range segments {
		name, idx, hasIdx := splitIndex(seg)

		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := lookupKey(node, name)
			if !ok {
				return models.NoValue
			}
			cur = next
		case []interface{}:
			// An array was encountered mid-path with no explicit index on the
			// previous segment: fan out across elements for the remainder.
			return a.fanOut(node, segments[i:])
		default:
			return models.NoValue
		}

		if hasIdx {
			arr, ok := cur.([]interface{})
			if !ok {
				return models.NoValue
			}
			if idx < 1 || idx > len(arr) {
				return models.NoValue
			}
			cur = arr[idx-1]
		}
	}

	return leafValue(cur)
}

// fanOut resolves the remaining path segments against every element of arr,
// collecting all leaf scalars reached.
func (a *Accessor) fanOut(arr []interface{}, remaining []string) models.FieldValue {
	out := make([]interface{}, 0, len(arr))
	for _, el := range arr {
		v := a.resolveFrom(el, remaining)
		out = append(out, v.Values()...)
	}
	if len(out) == 0 {
		return models.NoValue
	}
	if len(out) == 1 {
		return models.FieldValue{Kind: models.Scalar, Scalar: out[0]}
	}
	return models.FieldValue{Kind: models.Array, Array: out}
}

func (a *Accessor) resolveFrom(root interface{}, segments []string) models.FieldValue {
	cur := root
	for i, seg := range segments {
		name, idx, hasIdx := splitIndex(seg)
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := lookupKey(node, name)
			if !ok {
				return models.NoValue
			}
			cur = next
		case []interface{}:
			return a.fanOut(node, segments[i:])
		default:
			return models.NoValue
		}
		if hasIdx {
			arr, ok := cur.([]interface{})
			if !ok {
				return models.NoValue
			}
			if idx < 1 || idx > len(arr) {
				return models.NoValue
			}
			cur = arr[idx-1]
		}
	}
	return leafValue(cur)
}

// lookupKey descends into an object by key, with the EventData.Data
// normalization: a "Data" array of {Name, "#text"} objects (named) or plain
// strings (positional) both expose their leaves the same way a plain map
// would, so a named lookup by Name works identically to a dotted path into
// a regular object, and Data[n] (positional) keeps working via splitIndex.
func lookupKey(node map[string]interface{}, name string) (interface{}, bool) {
	v, ok := node[name]
	if ok {
		return v, true
	}
	if name == "Data" {
		return nil, false
	}
	// Named Data[] lookup: EventData.Data == [{Name: "CommandLine", "#text": "..."}]
	if data, ok := node["Data"]; ok {
		if arr, ok := data.([]interface{}); ok {
			for _, el := range arr {
				m, ok := el.(map[string]interface{})
				if !ok {
					continue
				}
				if n, _ := m["Name"].(string); n == name {
					if text, ok := m["#text"]; ok {
						return text, true
					}
					return "", true
				}
			}
		}
	}
	return nil, false
}

func leafValue(v interface{}) models.FieldValue {
	switch t := v.(type) {
	case nil:
		return models.NoValue
	case []interface{}:
		if len(t) == 0 {
			return models.NoValue
		}
		flat := make([]interface{}, 0, len(t))
		for _, el := range t {
			flattenLeaf(el, &flat)
		}
		if len(flat) == 0 {
			return models.NoValue
		}
		if len(flat) == 1 {
			return models.FieldValue{Kind: models.Scalar, Scalar: flat[0]}
		}
		return models.FieldValue{Kind: models.Array, Array: flat}
	case map[string]interface{}:
		// A bare object has no scalar leaf to offer the matcher.
		return models.NoValue
	default:
		return models.FieldValue{Kind: models.Scalar, Scalar: t}
	}
}

func flattenLeaf(v interface{}, out *[]interface{}) {
	switch t := v.(type) {
	case []interface{}:
		for _, el := range t {
			flattenLeaf(el, out)
		}
	case map[string]interface{}:
		if text, ok := t["#text"]; ok {
			*out = append(*out, text)
		}
	case nil:
		// skip
	default:
		*out = append(*out, t)
	}
}

// splitIndex splits a trailing "[n]" (1-based) off a path segment, e.g.
// "Data[2]" -> ("Data", 2, true).
func splitIndex(seg string) (string, int, bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	name := seg[:open]
	numStr := seg[open+1 : len(seg)-1]
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return seg, 0, false
	}
	return name, n, true
}

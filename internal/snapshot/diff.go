package snapshot

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// ChangeKind says what happened at a path between two payloads.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// Change is one structural difference, addressed by a dotted path such as
// "tools[2].inputSchema.type". Old and New carry the values on the
// respective sides where present.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	Old  any        `json:"old,omitempty"`
	New  any        `json:"new,omitempty"`
}

// Diff compares two snapshot payloads structurally. Purely for human
// review: drift detection itself is hash-based.
func Diff(oldPayload, newPayload string) ([]Change, error) {
	var oldVal, newVal any
	if err := json.Unmarshal([]byte(oldPayload), &oldVal); err != nil {
		return nil, fmt.Errorf("parse old payload: %w", err)
	}
	if err := json.Unmarshal([]byte(newPayload), &newVal); err != nil {
		return nil, fmt.Errorf("parse new payload: %w", err)
	}

	var changes []Change
	walkDiff("", oldVal, newVal, &changes)
	return changes, nil
}

func walkDiff(path string, oldVal, newVal any, changes *[]Change) {
	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)
	if oldIsMap && newIsMap {
		keys := map[string]struct{}{}
		for k := range oldMap {
			keys[k] = struct{}{}
		}
		for k := range newMap {
			keys[k] = struct{}{}
		}
		ordered := make([]string, 0, len(keys))
		for k := range keys {
			ordered = append(ordered, k)
		}
		sort.Strings(ordered)

		for _, k := range ordered {
			childPath := joinPath(path, k)
			oldChild, inOld := oldMap[k]
			newChild, inNew := newMap[k]
			switch {
			case !inOld:
				*changes = append(*changes, Change{Path: childPath, Kind: ChangeAdded, New: newChild})
			case !inNew:
				*changes = append(*changes, Change{Path: childPath, Kind: ChangeRemoved, Old: oldChild})
			default:
				walkDiff(childPath, oldChild, newChild, changes)
			}
		}
		return
	}

	oldArr, oldIsArr := oldVal.([]any)
	newArr, newIsArr := newVal.([]any)
	if oldIsArr && newIsArr {
		shared := len(oldArr)
		if len(newArr) < shared {
			shared = len(newArr)
		}
		for i := 0; i < shared; i++ {
			walkDiff(fmt.Sprintf("%s[%d]", path, i), oldArr[i], newArr[i], changes)
		}
		for i := shared; i < len(newArr); i++ {
			*changes = append(*changes, Change{Path: fmt.Sprintf("%s[%d]", path, i), Kind: ChangeAdded, New: newArr[i]})
		}
		for i := shared; i < len(oldArr); i++ {
			*changes = append(*changes, Change{Path: fmt.Sprintf("%s[%d]", path, i), Kind: ChangeRemoved, Old: oldArr[i]})
		}
		return
	}

	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, Change{Path: path, Kind: ChangeChanged, Old: oldVal, New: newVal})
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

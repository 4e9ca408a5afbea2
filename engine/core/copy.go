package core

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// DeepCopyMap returns a deep copy of the provided map[string]any. Used when
// snapshotting task metadata so external consumers can never alias live
// node state.
func DeepCopyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	copiedInterface := deepcopy.Copy(m)
	copied, ok := copiedInterface.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to copy map")
	}
	return copied, nil
}

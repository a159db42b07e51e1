package version

import "fmt"

// IsCompatible reports whether a stored lock snapshot can be loaded by an
// engine at the given schema version. Older snapshots are fine (they get
// migrated on load); newer ones mean the database was written by a newer
// engine and must not be touched.
func IsCompatible(snapshotSchema, engineSchema int) (bool, error) {
	if snapshotSchema < 1 {
		return false, fmt.Errorf("invalid snapshot schema %d", snapshotSchema)
	}
	if engineSchema < 1 {
		return false, fmt.Errorf("invalid engine schema %d", engineSchema)
	}
	return snapshotSchema <= engineSchema, nil
}

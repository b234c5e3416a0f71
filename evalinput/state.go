package evalinput

import "os"

// FileState is the result of comparing a previously captured FileDesc
// against the filesystem right now (spec.md §3/§4.B).
type FileState int

const (
	Unchanged FileState = iota
	MetadataModified
	Modified
	Removed
)

func (s FileState) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case MetadataModified:
		return "metadata_modified"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// CheckFileState re-examines the path described by prev and classifies what
// changed, without mutating prev. A fallback timestamp is not needed here —
// unlike NewFileDesc, re-checking never needs one, because the "no spurious
// entries for missing paths" concern only applies at initial capture.
func CheckFileState(prev FileDesc) (FileState, FileDesc, error) {
	info, err := os.Stat(prev.Path)
	if os.IsNotExist(err) {
		if prev.ContentHash != "" {
			return Removed, prev, nil
		}
		// Was already absent; still absent.
		return Unchanged, prev, nil
	}
	if err != nil {
		return Unchanged, prev, err
	}

	isDir := info.IsDir()
	mtime := truncateToSeconds(info.ModTime())

	if isDir != prev.IsDirectory {
		// A file<->directory flip always counts as a content change, even if
		// mtime is unchanged (spec.md §4.B).
		next, hashErr := recompute(prev.Path, isDir)
		if hashErr != nil {
			return Unchanged, prev, hashErr
		}
		next.ModifiedAt = mtime
		return Modified, next, nil
	}

	if mtime.Equal(prev.ModifiedAt) {
		return Unchanged, prev, nil
	}

	next, hashErr := recompute(prev.Path, isDir)
	if hashErr != nil {
		return Unchanged, prev, hashErr
	}
	next.ModifiedAt = mtime

	if next.ContentHash == prev.ContentHash {
		return MetadataModified, next, nil
	}
	return Modified, next, nil
}

func recompute(path string, isDir bool) (FileDesc, error) {
	if isDir {
		hash, err := hashDirectory(path)
		if err != nil {
			return FileDesc{}, err
		}
		return FileDesc{Path: path, IsDirectory: true, ContentHash: hash}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileDesc{}, err
	}
	return FileDesc{Path: path, ContentHash: hashBytes(data)}, nil
}

// HasContentChanged is the conservative predicate the eval cache uses:
// Unchanged and MetadataModified both mean "no change"; any error is treated
// as "no change" too, to avoid cache thrash on a transient I/O failure
// (spec.md §4.B, §7).
func HasContentChanged(prev FileDesc) bool {
	state, _, err := CheckFileState(prev)
	if err != nil {
		return false
	}
	return state == Modified || state == Removed
}

// CheckEnvState reports whether an environment variable's value differs from
// the descriptor captured at evaluation time.
func CheckEnvState(prev EnvDesc) (changed bool) {
	now := NewEnvDesc(prev.Name)
	return now.ContentHash != prev.ContentHash
}

// Package evalinput implements file and environment-variable input
// descriptors: the unit the eval cache validates against to decide whether a
// cached evaluation is still fresh (spec.md §4.B).
package evalinput

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// FileDesc is a snapshot of a file or directory's observed state at the
// moment it was read during evaluation.
type FileDesc struct {
	Path        string
	IsDirectory bool
	ContentHash string // 64-hex sha256, empty if the path didn't exist
	ModifiedAt  time.Time
}

// EnvDesc is a snapshot of an environment variable's value.
type EnvDesc struct {
	Name        string
	ContentHash string // empty means "absent" (including empty-string values)
}

// hashBytes returns the 64-hex sha256 digest of b.
func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NewFileDesc builds a descriptor for path. fallback is used as the
// modification time when path does not exist, so two descriptors for a
// missing path taken moments apart don't differ only by "now" and thrash the
// cache (spec.md §4.B).
func NewFileDesc(path string, fallback time.Time) (FileDesc, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return FileDesc{Path: path, ModifiedAt: truncateToSeconds(fallback)}, nil
	}
	if err != nil {
		return FileDesc{}, err
	}

	desc := FileDesc{
		Path:        path,
		IsDirectory: info.IsDir(),
		ModifiedAt:  truncateToSeconds(info.ModTime()),
	}

	if info.IsDir() {
		hash, err := hashDirectory(path)
		if err != nil {
			return FileDesc{}, err
		}
		desc.ContentHash = hash
		return desc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FileDesc{}, err
	}
	desc.ContentHash = hashBytes(data)
	return desc, nil
}

// hashDirectory hashes the sorted, newline-joined list of immediate children
// (not a recursive content hash): directories are tracked by membership, not
// by the contents of every file beneath them.
func hashDirectory(path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return hashBytes([]byte(strings.Join(names, "\n"))), nil
}

func truncateToSeconds(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// NewEnvDesc reads name from the environment and normalizes an empty-string
// value to absent, matching the evaluator's own treatment of unset vs empty
// (spec.md §3).
func NewEnvDesc(name string) EnvDesc {
	val, ok := os.LookupEnv(name)
	if !ok || val == "" {
		return EnvDesc{Name: name}
	}
	return EnvDesc{Name: name, ContentHash: hashBytes([]byte(val))}
}

// SortFiles orders file descriptors by path, then by newest-mtime first —
// the tie-break the original uses so the "latest write wins" entry for a
// duplicate path sorts first ahead of deduplication.
func SortFiles(files []FileDesc) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Path != files[j].Path {
			return files[i].Path < files[j].Path
		}
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
}

// SortEnvs orders env descriptors by name.
func SortEnvs(envs []EnvDesc) {
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
}

// DedupeFiles drops later duplicates of the same path once sorted (keeps the
// newest-mtime entry, which SortFiles placed first).
func DedupeFiles(files []FileDesc) []FileDesc {
	out := files[:0:0]
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
	}
	return out
}

// DedupeEnvs drops later duplicates of the same env name.
func DedupeEnvs(envs []EnvDesc) []EnvDesc {
	out := envs[:0:0]
	seen := make(map[string]bool, len(envs))
	for _, e := range envs {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	return out
}

// InputSetHash hashes the concatenated content hashes of every input, in the
// caller-supplied (already sorted+deduped) order — the eval cache's
// input-set fingerprint (spec.md §3).
func InputSetHash(files []FileDesc, envs []EnvDesc) string {
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(f.ContentHash)
		sb.WriteByte('\n')
	}
	for _, e := range envs {
		sb.WriteString(e.ContentHash)
		sb.WriteByte('\n')
	}
	return hashBytes([]byte(sb.String()))
}

// String is a debug helper; not part of the wire contract.
func (f FileDesc) String() string {
	return fmt.Sprintf("FileDesc{%s dir=%v hash=%s mtime=%s}", f.Path, f.IsDirectory, f.ContentHash, f.ModifiedAt)
}

package activity

import "sync/atomic"

// generatorBit marks ids allocated by this process's generator, distinct
// from ids the evaluator itself may assign (spec.md §9 open question: the
// two id spaces are separated by convention only).
const generatorBit = uint64(1) << 63

var idCounter uint64

// nextID allocates a fresh generator-owned activity id.
func nextID() uint64 {
	return (atomic.AddUint64(&idCounter, 1)) | generatorBit
}

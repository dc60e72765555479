// Package partition maps record identifiers onto a fixed set of lanes so work
// for the same record always lands on the same worker.
package partition

import "hash/fnv"

// Of returns the partition for key in [0, n). n below 1 is treated as 1.
// Uses FNV-32a; the mapping is stable across processes.
func Of(key string, n int) int {
	if n < 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

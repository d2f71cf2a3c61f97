package utils

import "hash/fnv"

func HashStringToUint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// AdvisoryLockKey maps a name onto the bigint keyspace of PostgreSQL
// advisory locks. The same name always yields the same key.
func AdvisoryLockKey(namespace, name string) int64 {
	return int64(HashStringToUint64(namespace + ":" + name))
}

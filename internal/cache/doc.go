// Package cache provides the result cache used for resource reads.
//
// Two backends implement Cache: Memory, an in-process TTL cache bounded by
// size, and Redis. New chooses Redis when redis_url is set.
package cache

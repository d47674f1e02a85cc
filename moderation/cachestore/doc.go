// Component for caching entity reads (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The moderation engine caches post and user views here, and purges them whenever a decision or ingestion mutates the entity.
package cachestore

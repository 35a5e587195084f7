// Package redis connects to Redis and caches the organization memberships
// behind authorization decisions under authz:member:{org}:{user}.
//
// Non-member answers are cached too. A Redis outage degrades to direct
// database lookups and never denies access on its own.
package redis

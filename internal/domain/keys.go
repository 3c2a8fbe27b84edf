package domain

// Cache key namespaces.
const (
	profileKeyPrefix = "identity:profile:"
	revokedKeyPrefix = "identity:revoked:"
	lockKeyPrefix    = "identity:lock:"
)

// ProfileKey addresses a user's cached profile and permission snapshot.
func ProfileKey(userID string) string { return profileKeyPrefix + userID }

// RevokedTokenKey addresses a blacklist entry.
func RevokedTokenKey(tokenID string) string { return revokedKeyPrefix + tokenID }

// LockKey addresses a distributed lock.
func LockKey(name string) string { return lockKeyPrefix + name }

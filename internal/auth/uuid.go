package auth

import (
	"crypto/md5"

	"github.com/google/uuid"
)

const offlinePrefix = "OfflinePlayer:"

// OfflineUUID derives the deterministic account id for a username: the MD5
// of "OfflinePlayer:<username>" laid out as an RFC 4122 version-3 UUID.
// It must stay bit-for-bit identical to the ids earlier launcher
// generations produced, since the game server keys player data on them.
func OfflineUUID(username string) string {
	sum := md5.Sum([]byte(offlinePrefix + username))
	id := uuid.UUID(sum)
	id[6] = (id[6] & 0x0f) | 0x30 // version 3
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id.String()
}

package database

import "strings"

const (
	roomKeyPrefix     = "room:"
	membersKeySuffix  = ":members"
	leaseKeySuffix    = ":lease"
	userKeyPrefix     = "user:"
	presenceKeySuffix = ":presence"
	presenceValue     = "online"
)

func roomMembersKey(roomID string) string {
	return roomKeyPrefix + roomID + membersKeySuffix
}

func roomLeaseKey(roomID string) string {
	return roomKeyPrefix + roomID + leaseKeySuffix
}

func presenceKey(userID string) string {
	return userKeyPrefix + userID + presenceKeySuffix
}

// roomIDFromLeaseKey extracts {id} from room:{id}:lease.
func roomIDFromLeaseKey(key string) (string, bool) {
	if !strings.HasPrefix(key, roomKeyPrefix) || !strings.HasSuffix(key, leaseKeySuffix) {
		return "", false
	}
	id := key[len(roomKeyPrefix) : len(key)-len(leaseKeySuffix)]
	return id, id != ""
}

func userIDFromPresenceKey(key string) (string, bool) {
	if !strings.HasPrefix(key, userKeyPrefix) || !strings.HasSuffix(key, presenceKeySuffix) {
		return "", false
	}
	id := key[len(userKeyPrefix) : len(key)-len(presenceKeySuffix)]
	return id, id != ""
}

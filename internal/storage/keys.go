package storage

import "fmt"

// Key layout: four logical records per user. The user id is embedded in
// every key so per-user state stays isolated.
//   users/<uid>/drafts/<entity>
//   users/<uid>/pendingSync
//   users/<uid>/photos/<photoID>
//   users/<uid>/syncMetadata

// DraftKey returns the draft key for a user and entity type.
func DraftKey(userID, entity string) string {
	return fmt.Sprintf("users/%s/drafts/%s", userID, entity)
}

// QueueKey returns the pending-sync queue key for a user.
func QueueKey(userID string) string {
	return fmt.Sprintf("users/%s/pendingSync", userID)
}

// PhotoKey returns the cache key for one photo.
func PhotoKey(userID, photoID string) string {
	return fmt.Sprintf("users/%s/photos/%s", userID, photoID)
}

// PhotoPrefix returns the listing prefix for a user's photos.
func PhotoPrefix(userID string) string {
	return fmt.Sprintf("users/%s/photos/", userID)
}

// MetadataKey returns the sync metadata key for a user.
func MetadataKey(userID string) string {
	return fmt.Sprintf("users/%s/syncMetadata", userID)
}

package cache

import "fmt"

// entitlement:{user_id}:{feature}
func EntitlementKey(userID uint64, feature string) string {
	return fmt.Sprintf("entitlement:%d:%s", userID, feature)
}

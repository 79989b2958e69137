package middleware

import "strings"

const (
	// Permission management permissions
	CheckPermissionPermission   = "check:permission"
	ManagePermissionsPermission = "manage:permissions"
	ReadGrantsPermission        = "read:grants"

	// Audit and security permissions
	ReadAuditLogPermission       = "read:audit"
	ReadAuditAnalyticsPermission = "read:audit:analytics"
	ReadSecurityAlertsPermission = "read:security:alerts"
	RunMaintenancePermission     = "run:maintenance"

	// Admin permissions (admin has all permissions)
	AdminPermission = "admin"
)

// HasPermission checks a gateway-supplied X-User-Permissions header value
// against a required permission. Admin-prefixed permissions satisfy
// everything, and ":all" variants satisfy their base permission.
func HasPermission(headerValue, required string) bool {
	if headerValue == "" {
		return false
	}

	for _, perm := range strings.Split(headerValue, ",") {
		perm = strings.TrimSpace(perm)

		if perm == required {
			return true
		}

		if strings.HasPrefix(perm, AdminPermission) {
			return true
		}

		if strings.Contains(perm, ":all") && strings.Contains(required, strings.Replace(perm, ":all", "", 1)) {
			return true
		}
	}

	return false
}

// Package appid builds default appId strings, the supplemental operational
// surface the C binding exposes as app_id/app_id_with_id.
package appid

import (
	"strconv"

	"github.com/google/uuid"
)

// AppID returns a default appId for appName, suffixed with a random UUID so
// two installs of the same app on different devices never collide. Callers
// free to supply their own device-derived appId instead; this exists only
// as a reasonable stand-in when no device-naming collaborator is wired in.
func AppID(appName string) string {
	return appName + "-" + uuid.New().String()
}

// AppIDWithID is AppID with a caller-supplied numeric disambiguator instead
// of a random suffix, for callers that already track a stable per-install
// integer (e.g. an Android account row id) and want reproducible appIds
// across reinstalls.
func AppIDWithID(appName string, id int) string {
	return appName + "-" + strconv.Itoa(id)
}

//go:build !embed

package frontend

import "net/http"

// Handler returns nil when the frontend is not embedded; the server
// then serves the dashboard from monitor.dashboard_dir, if set.
func Handler() http.Handler {
	return nil
}

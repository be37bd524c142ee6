package server

import "strings"

// sanitizeBase turns " api/v1/ " into "/api/v1"; empty and "/" mount at the root.
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

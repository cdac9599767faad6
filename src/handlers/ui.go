// src/handlers/ui.go
package handlers

import (
	_ "embed"
	"net/http"
)

//go:embed web/index.html
var indexHTML []byte

// HandleIndex serves the single-page dashboard.
func HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

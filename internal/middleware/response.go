package middleware

import (
	"net/http"

	"github.com/openclaw/pairing-relay-go/internal/httputil"
)

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

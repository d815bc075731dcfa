package admin

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/httputil"
	"electorate/pkg/requestcontext"
)

// RequireSession guards a route behind a valid admin session token carried
// as a Bearer credential.
func (s *Service) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin session token required"))
			return
		}

		if _, err := s.ValidateToken(token); err != nil {
			s.logger.Warn("admin session rejected",
				slog.String("request_id", requestcontext.RequestID(r.Context())),
				slog.String("client_ip", requestcontext.ClientIP(r.Context())),
			)
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

package authkit

import (
	"github.com/gin-gonic/gin"
)

const sessionContextKey = "briefing_session"

// LoadSession decodes the session cookie and exposes it to downstream handlers.
func LoadSession(sessions SessionStore) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.Set(sessionContextKey, sessions.Load(contextGin.Request))
		contextGin.Next()
	}
}

// SessionFromContext returns the session loaded by LoadSession, or an empty one.
func SessionFromContext(contextGin *gin.Context) *Session {
	if value, found := contextGin.Get(sessionContextKey); found {
		if session, ok := value.(*Session); ok && session != nil {
			return session
		}
	}
	session := &Session{}
	contextGin.Set(sessionContextKey, session)
	return session
}

package authkit

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MountAuthRoutes registers /login, /callback, /logout, and /session.
// The router must run LoadSession before these handlers.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, gateway *Gateway, sessions SessionStore) {
	router.GET("/login", func(contextGin *gin.Context) {
		logger := currentLogger()
		session := SessionFromContext(contextGin)
		authURL, beginErr := gateway.BeginLogin(contextGin.Request.Context(), session)
		if beginErr != nil {
			logger.Error("login start failed", zap.String("code", "oauth.login.start_failed"), zap.Error(beginErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if saveErr := sessions.Save(contextGin.Writer, session); saveErr != nil {
			logger.Error("session save failed", zap.String("code", "oauth.login.session_save_failed"), zap.Error(saveErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		logger.Info("oauth flow started", zap.String("code", "oauth.login.started"))
		contextGin.Redirect(http.StatusFound, authURL)
	})

	router.GET("/callback", func(contextGin *gin.Context) {
		logger := currentLogger()
		session := SessionFromContext(contextGin)
		params := CallbackParams{
			State:            contextGin.Query("state"),
			Code:             contextGin.Query("code"),
			Error:            contextGin.Query("error"),
			ErrorDescription: contextGin.Query("error_description"),
			Secure:           isHTTPS(contextGin.Request),
		}
		callbackErr := gateway.HandleCallback(contextGin.Request.Context(), session, params)
		if saveErr := sessions.Save(contextGin.Writer, session); saveErr != nil {
			logger.Error("session save failed", zap.String("code", "oauth.callback.session_save_failed"), zap.Error(saveErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if callbackErr != nil {
			logger.Warn("oauth callback rejected", zap.String("code", "oauth.callback.rejected"), zap.Error(callbackErr))
			page, renderErr := renderCallbackPage(callbackErr)
			if renderErr != nil {
				contextGin.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			contextGin.Data(http.StatusBadRequest, "text/html; charset=utf-8", page)
			return
		}
		logger.Info("oauth flow completed", zap.String("code", "oauth.callback.completed"))
		contextGin.Redirect(http.StatusFound, configuration.postLoginPath())
	})

	logout := func(contextGin *gin.Context) {
		session := SessionFromContext(contextGin)
		gateway.Logout(session)
		if saveErr := sessions.Save(contextGin.Writer, session); saveErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Redirect(http.StatusFound, "/")
	}
	router.GET("/logout", logout)
	router.POST("/logout", logout)

	router.GET("/session", func(contextGin *gin.Context) {
		session := SessionFromContext(contextGin)
		if !session.Authenticated() {
			contextGin.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"authenticated": true,
			"scopes":        session.Credentials.Scopes,
			"expires":       session.Credentials.Expiry,
		})
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	return isLoopbackHost(request.Host)
}

// isLoopbackHost accepts localhost and loopback IPs, with or without a port.
func isLoopbackHost(hostHeader string) bool {
	host := hostHeader
	if splitHost, _, splitErr := net.SplitHostPort(hostHeader); splitErr == nil {
		host = splitHost
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	address := net.ParseIP(host)
	return address != nil && address.IsLoopback()
}

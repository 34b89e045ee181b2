package auth

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware returns an HTTP middleware that rejects denied requests
// with 401 and stores the principal in the request context otherwise.
func (g *Gate) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Decide(r)
			if !d.Allowed() {
				WriteUnauthorized(w)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), d.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GinMiddleware returns the gin form of HTTPMiddleware.
func (g *Gate) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request)
		if !d.Allowed() {
			c.Header(HeaderWWWAuthenticate, AuthSchemeBearer)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
			return
		}

		c.Request = c.Request.WithContext(ContextWithPrincipal(c.Request.Context(), d.Principal))
		c.Next()
	}
}

// VerifyHandler answers 200 for allowed requests and 401 otherwise. It
// serves reverse proxies that delegate authorization to the gate.
func (g *Gate) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request)
		if !d.Allowed() {
			c.Header(HeaderWWWAuthenticate, AuthSchemeBearer)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedMessage})
			return
		}

		c.Header("X-Auth-Subject", d.Principal.Subject)
		c.Header("X-Auth-Issuer", d.Principal.Issuer)
		c.Status(http.StatusOK)
	}
}

// WriteUnauthorized writes the uniform denial response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.Header().Set(HeaderWWWAuthenticate, AuthSchemeBearer)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": unauthorizedMessage,
	})
}

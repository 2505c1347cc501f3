package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"callcenter/internal/observability"
	"callcenter/pkg/logger"
)

const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature implements Twilio's request signing: HMAC-SHA1 over the full callback URL
// followed by every POST parameter name and value, sorted by name.
func ComputeSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), form[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether got matches the expected signature.
func ValidSignature(authToken, fullURL string, form url.Values, got string) bool {
	if authToken == "" || got == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, form)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

type SignatureOptions struct {
	AuthToken string
	// PublicBaseURL is the origin Twilio was configured with, e.g. https://api.example.com.
	PublicBaseURL string
	Skip          bool
	Metrics       *observability.Metrics
}

// SignatureMiddleware rejects provider callbacks whose signature does not match the exact
// public URL they were sent to. Rejections never reach the handlers.
func SignatureMiddleware(opts SignatureOptions) gin.HandlerFunc {
	base := strings.TrimRight(opts.PublicBaseURL, "/")
	return func(c *gin.Context) {
		if opts.Skip {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			opts.Metrics.InvalidSignature()
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		if !ValidSignature(opts.AuthToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
			logger.FromGin(c).Warn("provider signature rejected", "path", c.Request.URL.Path)
			opts.Metrics.InvalidSignature()
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

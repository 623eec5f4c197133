package config

const (
	HCType              = "Content-Type"
	HETag               = "ETag"
	HCacheControl       = "Cache-Control"
	HContentDisposition = "Content-Disposition"
	HAuthorization      = "Authorization"
	HAPIKey             = "apikey"
	HPrefer             = "Prefer"

	CTypeCSS      = "text/css"
	CTypeHTML     = "text/html; charset=utf-8"
	CTypeJSON     = "application/json"
	CTypeMarkdown = "text/markdown; charset=utf-8"
)

const (
	HTTPErrBusy            = "Another request is still running for this session"
	HTTPErrTooManyRequests = "Too many requests"
)

const (
	CookieSession = "session-id"
)

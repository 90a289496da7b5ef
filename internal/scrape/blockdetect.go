package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone           BlockType = ""
	BlockRateThreshold  BlockType = "rate_threshold"
	BlockUndeclaredTool BlockType = "undeclared_tool"
	BlockCaptcha        BlockType = "captcha"
	BlockJSShell        BlockType = "js_shell"
)

// DetectBlock checks a response status and body for sec.gov's fair-access
// pages and other anti-bot responses.
func DetectBlock(status int, body []byte) (bool, BlockType) {
	lower := strings.ToLower(string(body))

	// sec.gov serves these with 403 when a client exceeds 10 req/s or omits
	// a declared User-Agent.
	if strings.Contains(lower, "request rate threshold exceeded") {
		return true, BlockRateThreshold
	}
	if strings.Contains(lower, "undeclared automated tool") {
		return true, BlockUndeclaredTool
	}
	if status == http.StatusForbidden && strings.Contains(lower, "automated") {
		return true, BlockUndeclaredTool
	}

	if strings.Contains(lower, "captcha") {
		return true, BlockCaptcha
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

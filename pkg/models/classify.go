package models

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	analyst "github.com/Protocol-Lattice/duo-analyst"
)

// quotaWords mark a provider message as a usage-limit signal.
var quotaWords = []string{"usage", "quota", "exceeded"}

// quotaCodes are provider error codes that mean the account is out of credit.
var quotaCodes = map[string]bool{
	"insufficient_quota":  true,
	"rate_limit_exceeded": true,
	"rate_limit_error":    true,
	"resource_exhausted":  true,
}

// messagePaths are where providers put human-readable error text.
var messagePaths = []string{"message", "error.message", "error", "detail", "error.details"}

// ProbeMessage returns the first error message found in a JSON payload.
func ProbeMessage(payload string) string {
	if !gjson.Valid(payload) {
		return ""
	}
	for _, path := range messagePaths {
		if r := gjson.Get(payload, path); r.Exists() && r.Type == gjson.String {
			if msg := strings.TrimSpace(r.String()); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// IsQuotaMessage reports whether msg reads like a usage-limit signal.
func IsQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, w := range quotaWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func isQuotaCode(code string) bool {
	return quotaCodes[strings.ToLower(strings.TrimSpace(code))]
}

// ClassifyPayload inspects a raw provider body for a quota signal. It reports
// ok=false when the payload carries no such signal.
func ClassifyPayload(payload string) (analyst.Completion, bool) {
	if !gjson.Valid(payload) {
		return analyst.Completion{}, false
	}
	for _, path := range []string{"error.code", "error.type", "code", "type", "error.status"} {
		if r := gjson.Get(payload, path); r.Type == gjson.String && isQuotaCode(r.String()) {
			detail := ProbeMessage(payload)
			if detail == "" {
				detail = r.String()
			}
			return analyst.FailedCompletion(analyst.CompletionQuota, detail, payload), true
		}
	}
	if msg := ProbeMessage(payload); msg != "" && IsQuotaMessage(msg) {
		return analyst.FailedCompletion(analyst.CompletionQuota, msg, payload), true
	}
	return analyst.Completion{}, false
}

// ClassifyHTTP turns a non-2xx response into a failed completion.
func ClassifyHTTP(status int, body string) analyst.Completion {
	if c, ok := ClassifyPayload(body); ok {
		return c
	}
	detail := ProbeMessage(body)
	if detail == "" {
		detail = strings.TrimSpace(body)
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	if status == http.StatusTooManyRequests {
		return analyst.FailedCompletion(analyst.CompletionQuota, detail, body)
	}
	return analyst.FailedCompletion(analyst.CompletionTransport, fmt.Sprintf("status %d: %s", status, detail), body)
}

// ClassifyText catches providers that answer 200 with an error document in
// place of a completion and surface it as message text.
func ClassifyText(text string) (analyst.Completion, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return analyst.Completion{}, false
	}
	return ClassifyPayload(trimmed)
}

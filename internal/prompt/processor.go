// Package prompt normalizes, enhances, and truncates user prompts before
// they reach the conditioning encoder. Enhancement is a pure function with
// an explicit de-duplication and truncation contract, independent of any
// particular text-encoding library.
package prompt

import (
	"strings"

	"imaged/pkg/types"
)

// MaxTokens is the conditioning encoder's token budget. Tokens are
// approximated as whitespace-separated words since the real encoder is
// behind the capability boundary.
const MaxTokens = 77

// DefaultNegative is used when the caller supplies no negative prompt.
const DefaultNegative = "blurry, low quality, distorted"

// defaultKeywords are appended to every prompt unless equivalent terms are
// already present.
var defaultKeywords = []string{"photorealistic", "detailed", "high quality"}

// styleKeywords maps a named style to its enhancement keyword set.
var styleKeywords = map[string][]string{
	"realistic":    {"photorealistic", "high quality", "detailed", "8k resolution"},
	"artistic":     {"artistic", "beautiful", "masterpiece", "high quality"},
	"professional": {"professional photography", "studio lighting", "high quality"},
	"cinematic":    {"cinematic lighting", "dramatic", "high quality", "film photography"},
}

// styleNegatives maps a named style to a tailored negative prompt.
var styleNegatives = map[string]string{
	"general":   DefaultNegative,
	"portrait":  "blurry, low quality, bad face, deformed face, extra limbs, bad anatomy",
	"landscape": "blurry, low quality, distorted horizon, bad composition, oversaturated",
	"object":    "blurry, low quality, deformed, bad shape, unrealistic proportions",
}

// StyleKeywords returns the keyword set for a named style, or nil when the
// style is unknown (the caller falls back to the defaults).
func StyleKeywords(style string) []string {
	kws, ok := styleKeywords[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		return nil
	}
	out := make([]string, len(kws))
	copy(out, kws)
	return out
}

// Enhance validates and normalizes raw, appends the given style keywords
// (or the defaults when keywords is empty), skipping any keyword whose
// lowercase form already appears in the prompt, and truncates the result to
// MaxTokens. Appended keywords are dropped whole before any user text is
// cut, so the user's own words always survive longest.
func Enhance(raw string, keywords []string) (types.Prompt, error) {
	norm := normalize(raw)
	if norm == "" {
		return types.Prompt{}, ErrEmptyPrompt()
	}
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	lower := strings.ToLower(norm)
	var appended []string
	for _, kw := range keywords {
		kw = normalize(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			continue
		}
		appended = append(appended, kw)
	}
	userTokens := strings.Fields(norm)
	enhanced := buildTruncated(userTokens, appended)
	return types.Prompt{Raw: norm, Enhanced: enhanced, Negative: DefaultNegative}, nil
}

// Negative returns the caller's negative prompt, normalized, or the default
// boilerplate when blank.
func Negative(raw string) string {
	if norm := normalize(raw); norm != "" {
		return norm
	}
	return DefaultNegative
}

// NegativeForStyle returns the negative prompt tailored to a named style,
// falling back to the general default.
func NegativeForStyle(style string) string {
	if neg, ok := styleNegatives[strings.ToLower(strings.TrimSpace(style))]; ok {
		return neg
	}
	return DefaultNegative
}

// normalize trims and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// buildTruncated joins user tokens and appended keywords under the token
// budget. Keywords are dropped whole from the end first; if the user text
// alone still exceeds the budget it is truncated from the end.
func buildTruncated(userTokens, keywords []string) string {
	if len(userTokens) >= MaxTokens {
		return strings.Join(userTokens[:MaxTokens], " ")
	}
	budget := MaxTokens - len(userTokens)
	var kept []string
	for _, kw := range keywords {
		n := len(strings.Fields(kw))
		if n > budget {
			break
		}
		kept = append(kept, kw)
		budget -= n
	}
	out := strings.Join(userTokens, " ")
	if len(kept) > 0 {
		out += ", " + strings.Join(kept, ", ")
	}
	return out
}

// TokenCount returns the approximate token count used by the truncation
// policy. Comma separators do not count as tokens.
func TokenCount(s string) int {
	return len(strings.Fields(strings.ReplaceAll(s, ",", " ")))
}

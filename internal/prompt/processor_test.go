package prompt

import (
	"strings"
	"testing"
)

func TestEnhanceEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := Enhance(raw, nil)
		if err == nil || !IsEmptyPrompt(err) {
			t.Fatalf("raw=%q: expected empty prompt error, got %v", raw, err)
		}
	}
}

func TestEnhanceAppendsDefaults(t *testing.T) {
	p, err := Enhance("a cute dog", nil)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	want := "a cute dog, photorealistic, detailed, high quality"
	if p.Enhanced != want {
		t.Fatalf("expected %q, got %q", want, p.Enhanced)
	}
	if p.Raw != "a cute dog" {
		t.Fatalf("raw mangled: %q", p.Raw)
	}
	if p.Negative != DefaultNegative {
		t.Fatalf("expected default negative, got %q", p.Negative)
	}
}

func TestEnhanceNormalizesWhitespace(t *testing.T) {
	p, err := Enhance("  a   red\tcar \n", nil)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if p.Raw != "a red car" {
		t.Fatalf("expected collapsed whitespace, got %q", p.Raw)
	}
}

func TestEnhanceSkipsPresentKeywords(t *testing.T) {
	p, err := Enhance("a detailed portrait, High Quality", nil)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	// "detailed" and "high quality" already present (case-insensitive)
	if strings.Count(strings.ToLower(p.Enhanced), "detailed") != 1 {
		t.Fatalf("duplicated keyword: %q", p.Enhanced)
	}
	if strings.Count(strings.ToLower(p.Enhanced), "high quality") != 1 {
		t.Fatalf("duplicated keyword: %q", p.Enhanced)
	}
	if !strings.Contains(p.Enhanced, "photorealistic") {
		t.Fatalf("missing keyword not appended: %q", p.Enhanced)
	}
}

func TestEnhanceIdempotent(t *testing.T) {
	first, err := Enhance("a mountain lake", nil)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	second, err := Enhance(first.Enhanced, nil)
	if err != nil {
		t.Fatalf("re-enhance: %v", err)
	}
	if second.Enhanced != first.Enhanced {
		t.Fatalf("not idempotent:\n first: %q\nsecond: %q", first.Enhanced, second.Enhanced)
	}
}

func TestEnhanceStyleKeywords(t *testing.T) {
	p, err := Enhance("old harbor", StyleKeywords("cinematic"))
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if !strings.Contains(p.Enhanced, "cinematic lighting") || !strings.Contains(p.Enhanced, "film photography") {
		t.Fatalf("style keywords missing: %q", p.Enhanced)
	}
	if StyleKeywords("no-such-style") != nil {
		t.Fatalf("unknown style should return nil")
	}
}

func TestEnhanceTruncationDropsKeywordsFirst(t *testing.T) {
	// 75 user tokens leave room for only a couple of keyword tokens.
	raw := strings.TrimSpace(strings.Repeat("word ", 75))
	p, err := Enhance(raw, nil)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if got := TokenCount(p.Enhanced); got > MaxTokens {
		t.Fatalf("enhanced exceeds budget: %d tokens", got)
	}
	// all user words survive
	if !strings.HasPrefix(p.Enhanced, raw) {
		t.Fatalf("user text truncated before keywords")
	}
	// "photorealistic" and "detailed" fit (75+2), "high quality" does not
	if !strings.Contains(p.Enhanced, "photorealistic") || !strings.Contains(p.Enhanced, "detailed") {
		t.Fatalf("expected partial keyword set, got %q", p.Enhanced)
	}
	if strings.Contains(p.Enhanced, "high quality") {
		t.Fatalf("oversize keyword should have been dropped whole: %q", p.Enhanced)
	}
}

func TestEnhanceTruncatesOversizeUserText(t *testing.T) {
	raw := strings.TrimSpace(strings.Repeat("word ", 100))
	p, err := Enhance(raw, nil)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if got := TokenCount(p.Enhanced); got != MaxTokens {
		t.Fatalf("expected exactly %d tokens, got %d", MaxTokens, got)
	}
	if strings.Contains(p.Enhanced, ",") {
		t.Fatalf("no keywords should be appended when user text fills the budget")
	}
}

func TestNegative(t *testing.T) {
	if got := Negative(""); got != DefaultNegative {
		t.Fatalf("expected default, got %q", got)
	}
	if got := Negative("  ugly,   noisy "); got != "ugly, noisy" {
		t.Fatalf("expected normalized caller value, got %q", got)
	}
	if got := NegativeForStyle("portrait"); !strings.Contains(got, "bad face") {
		t.Fatalf("unexpected portrait negative: %q", got)
	}
	if got := NegativeForStyle("unknown"); got != DefaultNegative {
		t.Fatalf("expected general fallback, got %q", got)
	}
}

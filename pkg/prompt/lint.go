// Package prompt checks system prompts before they enter a conversation and
// reconstructs their version history from an event log.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxBodyRunes bounds the size of a single system prompt.
const MaxBodyRunes = 32_000

// Issue describes a lint finding.
type Issue struct {
	Rule    string
	Message string
	Offset  int
}

var ErrLintFailed = errors.New("prompt failed lint checks")

// LintError carries the issues behind ErrLintFailed.
type LintError struct{ Issues []Issue }

func (e *LintError) Error() string {
	rules := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		rules[i] = is.Rule
	}
	return fmt.Sprintf("%v: %s", ErrLintFailed, strings.Join(rules, ", "))
}

func (e *LintError) Unwrap() error { return ErrLintFailed }

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)aws_secret_access_key`),
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`),
}

// Lint runs basic checks on a system prompt body.
func Lint(body string) []Issue {
	var issues []Issue
	if strings.TrimSpace(body) == "" {
		issues = append(issues, Issue{Rule: "body.required", Message: "body is empty"})
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyRunes {
		issues = append(issues, Issue{Rule: "body.length", Message: fmt.Sprintf("body has %d runes, limit %d", n, MaxBodyRunes), Offset: MaxBodyRunes})
	}
	// discourage hardcoded secrets-like patterns
	for _, re := range secretPatterns {
		if loc := re.FindStringIndex(body); loc != nil {
			issues = append(issues, Issue{Rule: "security.secrets", Message: "body appears to contain secrets-like content", Offset: loc[0]})
			break
		}
	}
	return issues
}

// Check returns a *LintError when body has lint issues.
func Check(body string) error {
	if issues := Lint(body); len(issues) > 0 {
		return &LintError{Issues: issues}
	}
	return nil
}

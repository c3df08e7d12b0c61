package downloader

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

const (
	genericTitle     = "video"
	maxTitleRunes    = 100
	minResolution    = 144
	maxResolution    = 4320
	resolutionSuffix = "p"
)

// SanitizeTitle turns backend metadata into something safe to use as a
// download filename: letters, digits, '-' and '_' survive, whitespace becomes
// '_', everything else is dropped.
func SanitizeTitle(title string) string {
	var b strings.Builder

	lastUnderscore := false

	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)

			lastUnderscore = false
		case unicode.IsSpace(r) || r == '_':
			if !lastUnderscore {
				b.WriteRune('_')
			}

			lastUnderscore = true
		}
	}

	clean := strings.Trim(b.String(), "_-")

	if runes := []rune(clean); len(runes) > maxTitleRunes {
		clean = strings.TrimRight(string(runes[:maxTitleRunes]), "_-")
	}

	if clean == "" {
		return genericTitle
	}

	return clean
}

// DisplayFilename builds the user-facing artifact name, e.g. "My_Clip_720p.mp4".
func DisplayFilename(title string, resolution int, ext string) string {
	return fmt.Sprintf("%s_%d%s.%s", SanitizeTitle(title), resolution, resolutionSuffix, ext)
}

// ParseResolution accepts "720", "720p" or "" (meaning fallback).
func ParseResolution(raw string, fallback int) (int, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return fallback, nil
	}

	raw = strings.TrimSuffix(raw, resolutionSuffix)
	if raw == "" {
		return 0, &InvalidInputError{Field: "resolution", Reason: "missing height before the p suffix"}
	}

	res, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &InvalidInputError{Field: "resolution", Reason: fmt.Sprintf("%q is not a number", raw)}
	}

	if res < minResolution || res > maxResolution {
		return 0, &InvalidInputError{
			Field:  "resolution",
			Reason: fmt.Sprintf("%d is outside %d-%d", res, minResolution, maxResolution),
		}
	}

	return res, nil
}

// ValidateURL rejects empty and non-http(s) URLs.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &InvalidInputError{Field: "url", Reason: "is required"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return &InvalidInputError{Field: "url", Reason: "is malformed"}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &InvalidInputError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}

	return nil
}

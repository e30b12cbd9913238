package invoker

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StderrParser extracts session id, turn count, and rate-limit signals
// from a backend subprocess's stderr, isolated from the adapters
// themselves so the extraction regexes can evolve independently of the
// invocation contract.
type StderrParser interface {
	ParseSession(stderr string, projectDir string) (string, bool)
	ParseTurns(stderr string) (used, max int, ok bool)
	DetectRateLimit(stderr string) (resetSeconds int, found bool)
}

var (
	rateLimitRe = regexp.MustCompile(`(?i)rate.?limit|token.?exhaust|too.?many.?requests|429`)

	// cueValueRe requires the number to follow a reset-ish cue word, per
	// spec.md §4.6 step 6 ("first reset duration/time-like token"); this
	// keeps it from matching an unrelated leading number such as an HTTP
	// status code. The unit is optional here because a cue-qualified bare
	// number (e.g. "reset_at: 1700000000") is still a legitimate token —
	// DetectRateLimit applies the magnitude heuristic when no unit matched.
	cueValueRe = regexp.MustCompile(`(?i)\b(?:retry|wait|reset|in|after)\b\D{0,12}?(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)?\b`)

	// unitValueRe is the fallback for a number with an explicit time unit
	// but no cue word nearby. The unit is mandatory, so a bare integer
	// (like the "429" in an HTTP status line) is never mistaken for a reset
	// value.
	unitValueRe = regexp.MustCompile(`(?i)(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?)\b`)

	sessionColonRe = regexp.MustCompile(`(?i)session[_-]?id[=:]\s*([0-9a-f-]{8,})`)
	sessionLabelRe = regexp.MustCompile(`(?i)session:\s*([0-9a-f-]{8,})`)

	turnsUsedRe  = regexp.MustCompile(`(?i)turns?\s*(?:used)?\s*:\s*(\d+)(?:\s*/\s*(\d+))?`)
	turnsLimitRe = regexp.MustCompile(`(?i)max(?:imum)?\s*turns\s*reached.*?(\d+)`)
)

// regexParser is the default StderrParser, grounded on spec.md §4.6's
// stated extraction patterns.
type regexParser struct {
	log *zap.Logger
}

// NewRegexParser returns the default stderr parser. log may be nil, in
// which case interpretation logging is skipped.
func NewRegexParser(log *zap.Logger) StderrParser {
	return regexParser{log: log}
}

func (regexParser) ParseSession(stderr, projectDir string) (string, bool) {
	if m := sessionLabelRe.FindStringSubmatch(stderr); m != nil {
		return m[1], true
	}
	if m := sessionColonRe.FindStringSubmatch(stderr); m != nil {
		return m[1], true
	}
	if id, ok := recentSessionFile(projectDir); ok {
		return id, true
	}
	return uuid.NewString(), true
}

func (regexParser) ParseTurns(stderr string) (used, max int, ok bool) {
	if m := turnsUsedRe.FindStringSubmatch(stderr); m != nil {
		used, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			max, _ = strconv.Atoi(m[2])
		}
		return used, max, true
	}
	if m := turnsLimitRe.FindStringSubmatch(stderr); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, n, true
	}
	return 0, 0, false
}

// clampReset applies spec.md §8's boundary rule: a reset value of zero or
// negative is treated as 60 seconds.
func clampReset(seconds int) int {
	if seconds <= 0 {
		return 60
	}
	return seconds
}

func (p regexParser) logInterpretation(msg string, fields ...zap.Field) {
	if p.log != nil {
		p.log.Info(msg, fields...)
	}
}

func (p regexParser) DetectRateLimit(stderr string) (int, bool) {
	if !rateLimitRe.MatchString(stderr) {
		return 0, false
	}

	if m := cueValueRe.FindStringSubmatch(stderr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 60, true
		}
		if unit := strings.ToLower(m[2]); unit != "" {
			return clampReset(applyUnit(n, unit)), true
		}
		return clampReset(p.resolveBareValue(n)), true
	}

	if m := unitValueRe.FindStringSubmatch(stderr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 60, true
		}
		return clampReset(applyUnit(n, strings.ToLower(m[2]))), true
	}

	return 60, true
}

// applyUnit converts n into seconds given its matched unit token.
func applyUnit(n int, unit string) int {
	switch {
	case strings.HasPrefix(unit, "h"):
		return n * 3600
	case strings.HasPrefix(unit, "m"):
		return n * 60
	default:
		return n
	}
}

// resolveBareValue implements SPEC_FULL.md's resolved magnitude heuristic
// for a unitless reset value: values of an hour or less are seconds from
// now; larger values are read as a Unix epoch second timestamp.
func (p regexParser) resolveBareValue(n int) int {
	if n <= 3600 {
		p.logInterpretation("rate limit reset value interpreted as seconds-from-now", zap.Int("value", n))
		return n
	}
	seconds := n - int(time.Now().Unix())
	p.logInterpretation("rate limit reset value interpreted as unix epoch timestamp",
		zap.Int("value", n), zap.Int("seconds_from_now", seconds))
	return seconds
}

// recentSessionFile looks for the most recently modified file in
// projectDir as a last-resort session-id fallback.
func recentSessionFile(projectDir string) (string, bool) {
	if projectDir == "" {
		return "", false
	}
	entries, err := os.ReadDir(projectDir)
	if err != nil || len(entries) == 0 {
		return "", false
	}

	type candidate struct {
		name string
		mod  time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), mod: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod.After(candidates[j].mod) })
	return filepath.Base(candidates[0].name), true
}

package turn

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	filenameRe        = regexp.MustCompile(`^(\d+)_(.+)\.md$`)
	placeholderUserRe = regexp.MustCompile(`^\s*#\s*<User>\s*$`)
	readyUserRe       = regexp.MustCompile(`^\s*<User>\s*$`)
	stopRe            = regexp.MustCompile(`^\s*<Stop>\s*$`)
)

// LatestFile picks the .md file with the highest numeric prefix in
// taskDir, tie-broken by numeric (not lexical) order. Returns ok=false
// for an empty or missing directory.
func LatestFile(taskDir string) (File, bool, error) {
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, false, nil
		}
		return File{}, false, err
	}

	var best File
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filenameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		prefix, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if found && prefix <= best.Prefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		best = File{
			Path:    filepath.Join(taskDir, e.Name()),
			Name:    e.Name(),
			Prefix:  prefix,
			ModTime: info.ModTime(),
		}
		found = true
	}
	return best, found, nil
}

// Classify reports whether filename is a backend response awaiting the
// user, an edited backend response (treat as user), or a plain user file.
func Classify(taskDir, filename string) (Kind, error) {
	lines, err := readLines(filepath.Join(taskDir, filename))
	if err != nil {
		return "", err
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != backendHeader {
		return KindUser, nil
	}
	for _, line := range lines {
		if placeholderUserRe.MatchString(line) {
			return KindBackend, nil
		}
	}
	return KindEdited, nil
}

// IsReady reports whether filename carries the ready sentinel or has sat
// unchanged for at least stabilityTimeout.
func IsReady(taskDir, filename string, stabilityTimeout time.Duration) (bool, error) {
	path := filepath.Join(taskDir, filename)
	lines, err := readLines(path)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if readyUserRe.MatchString(line) {
			return true, nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) >= stabilityTimeout, nil
}

// DetectStop reports whether filename contains a standalone <Stop> line.
func DetectStop(taskDir, filename string) (bool, error) {
	lines, err := readLines(filepath.Join(taskDir, filename))
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if stopRe.MatchString(line) {
			return true, nil
		}
	}
	return false, nil
}

// NextFilename computes the zero-padded 3-digit successor filename for
// current, e.g. "003_foo.md" -> "004_foo.md". Prefixes beyond 999 widen
// without zero-padding rather than truncating.
func NextFilename(current, taskName string) (string, error) {
	m := filenameRe.FindStringSubmatch(current)
	if m == nil {
		return "", &InvalidFilenameError{Filename: current}
	}
	prefix, err := strconv.Atoi(m[1])
	if err != nil {
		return "", &InvalidFilenameError{Filename: current}
	}
	next := prefix + 1

	var numeral string
	if next <= 999 {
		numeral = zeroPad(next, 3)
	} else {
		numeral = strconv.Itoa(next)
	}
	return numeral + "_" + taskName + ".md", nil
}

// InvalidFilenameError reports a filename that does not match the
// NNN_<task-name>.md convention.
type InvalidFilenameError struct {
	Filename string
}

func (e *InvalidFilenameError) Error() string {
	return "turn: invalid filename " + e.Filename
}

func zeroPad(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

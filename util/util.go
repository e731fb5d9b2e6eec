package util

import (
	"fmt"
	"math/rand"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxRunURILength = 10

var letterRunes = []rune("abcdefghijklmnopqrstuvwxyz")

func Randstring(n int) string {
	rand := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]rune, n)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}

// NewRunURI generates an 8-character run identifier. Short enough to embed
// in resource names, random enough to namespace one execution.
func NewRunURI() string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return u[len(u)-8:]
}

func ValidRunURI(runURI string) bool {
	if runURI == "" || len(runURI) > MaxRunURILength {
		return false
	}
	for _, r := range runURI {
		isDigit := r >= '0' && r <= '9'
		isLower := r >= 'a' && r <= 'z'
		isUpper := r >= 'A' && r <= 'Z'
		if !isDigit && !isLower && !isUpper {
			return false
		}
	}
	return true
}

// TempDir returns the per-run scratch directory. All temp files and logs of
// one execution live under it, keyed by run_uri so separate stage
// invocations can find each other's state.
func TempDir(runURI string) string {
	return path.Join(os.TempDir(), "perfkitbenchmarker", fmt.Sprintf("run_%s", runURI))
}

func EnsureTempDir(runURI string) (string, error) {
	dir := TempDir(runURI)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run temp dir: %w", err)
	}
	return dir, nil
}

func LastNonEmptyLine(out []byte) string {
	lines := strings.Split(string(out), "\n")
	offset := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			offset = len(lines) - i
			break
		}
	}
	line := lines[len(lines)-offset]
	return line
}

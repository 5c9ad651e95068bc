package git

import (
	"bufio"
	"context"
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/hochfrequenz/phaseforge/internal/domain"
)

// RejectionMessage is reported for messages outside the Conventional Commits format
const RejectionMessage = "commit message does not follow the Conventional Commits format: <type>(<scope>)!: <description>"

var conventionalCommit = regexp.MustCompile(`^(feat|fix|chore|docs|style|refactor|perf|test|build|ci|revert)(\([a-zA-Z0-9_-]+\))?(!)?: .+`)

// ErrNoMessage is returned when no commit message was passed
var ErrNoMessage = errors.New("no commit message given")

// ValidMessage reports whether the subject line of msg follows Conventional Commits
func ValidMessage(msg string) bool {
	return conventionalCommit.MatchString(subject(msg))
}

// subject returns the first line that is not a comment
func subject(msg string) string {
	scanner := bufio.NewScanner(strings.NewReader(msg))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}

// readMessage treats arg as a message file when it exists, else as the message
func readMessage(arg string) string {
	if strings.Contains(arg, "\n") {
		return arg
	}
	if data, err := os.ReadFile(arg); err == nil {
		return string(data)
	}
	return arg
}

func validateCommitMessage(ctx context.Context, inv domain.Invocation) domain.TaskResult {
	if len(inv.Args) == 0 || inv.Args[0] == "" {
		return domain.Failure(RejectionMessage, ErrNoMessage)
	}
	msg := readMessage(inv.Args[0])
	if !ValidMessage(msg) {
		return domain.TaskResult{
			Outcome:     domain.OutcomeFailure,
			Message:     RejectionMessage,
			ErrorDetail: subject(msg),
		}
	}
	return domain.Success("commit message ok")
}

package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"jirareporter.app/reporter/internal/model"
)

const (
	noformat = "{noformat}"

	// VerifySummary is the summary and description of the issue created to verify a config.
	VerifySummary = "Test issue, please remove"
)

var duplicatesPattern = regexp.MustCompile(`Duplicates: [0-9]+`)

// Summary is the crash info cut to the Jira summary limit.
func Summary(msg model.UniqueCrash) string {
	return model.Curtail(msg.CrashInfo, model.MaxLabelLength)
}

// Labels are the fuzzer, revision and crash type, in that order.
func Labels(msg model.UniqueCrash) []string {
	return []string{msg.FuzzerName, msg.RevisionName, msg.CrashType}
}

// Description renders the issue body with a zero duplicate counter.
func Description(msg model.UniqueCrash) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Crash info: %s\n", msg.CrashInfo)
	fmt.Fprintf(&b, "Crash link: %s\n", msg.CrashURL)
	fmt.Fprintf(&b, "Project name: %s\n", msg.ProjectName)
	fmt.Fprintf(&b, "Fuzzer name: %s\n", msg.FuzzerName)
	fmt.Fprintf(&b, "Revision: %s\n", msg.RevisionName)
	b.WriteString("Duplicates: 0\n")
	b.WriteString(noformat + msg.CrashOutput + noformat)
	return b.String()
}

// ReplaceDuplicates rewrites the duplicate counter of a description. The counter
// is the last match before the crash output block, so counter-like text in the
// crash info or output is left alone. Reports false when there is no counter.
func ReplaceDuplicates(description string, count int64) (string, bool) {
	head := description
	if i := strings.Index(description, noformat); i >= 0 {
		head = description[:i]
	}

	locs := duplicatesPattern.FindAllStringIndex(head, -1)
	if len(locs) == 0 {
		return description, false
	}

	loc := locs[len(locs)-1]
	return description[:loc[0]] + "Duplicates: " + strconv.FormatInt(count, 10) + description[loc[1]:], true
}

// Package question models the coding problem detected on the observed page.
package question

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Extraction failures. Both are recoverable by detecting again.
var (
	ErrWrongSite    = errors.New("not a problem page")
	ErrNoIdentifier = errors.New("no problem number found on page")
)

// Status is the detection status of a Question.
type Status int

const (
	StatusChecking Status = iota
	StatusLoading
	StatusNotApplicable
	StatusError
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusLoading:
		return "loading"
	case StatusNotApplicable:
		return "not_applicable"
	case StatusError:
		return "error"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Question is replaced wholesale on every detection. Only Ready carries
// Number and Title; the other statuses may carry a Message.
type Question struct {
	Status  Status
	Number  int
	Title   string
	Message string
}

func Checking() Question { return Question{Status: StatusChecking} }

func Loading() Question { return Question{Status: StatusLoading} }

func NotApplicable(msg string) Question {
	return Question{Status: StatusNotApplicable, Message: msg}
}

func Failed(msg string) Question {
	return Question{Status: StatusError, Message: msg}
}

func Ready(number int, title string) Question {
	return Question{Status: StatusReady, Number: number, Title: title}
}

// IsReady reports whether q identifies a problem.
func (q Question) IsReady() bool {
	return q.Status == StatusReady
}

// Label renders q for status lines, e.g. "42. Trapping Rain Water".
func (q Question) Label() string {
	if !q.IsReady() {
		if q.Message != "" {
			return q.Message
		}
		return q.Status.String()
	}
	return fmt.Sprintf("%d. %s", q.Number, q.Title)
}

// Pending is a detected question that differs from the ready one and waits
// for an explicit reload.
type Pending struct {
	Number int
	Title  string
}

// Snapshot is what the page extractor reports for one tab.
type Snapshot struct {
	OK         bool   `json:"ok"`
	QuestionID string `json:"questionId"`
	Title      string `json:"title"`
}

// Resolve turns an extractor snapshot into a Question. It returns the error
// that caused a non-ready result so callers can classify it.
func Resolve(s Snapshot) (Question, error) {
	if !s.OK {
		return Failed("Could not read the problem from this page."), ErrNoIdentifier
	}

	number, title, err := ParseTitle(s.Title)
	if id := strings.TrimSpace(s.QuestionID); id != "" {
		if n, convErr := strconv.Atoi(id); convErr == nil && n > 0 {
			number, err = n, nil
			if title == "" {
				title = strings.TrimSpace(s.Title)
			}
		}
	}
	if err != nil {
		return Failed("No problem number found on this page."), err
	}
	return Ready(number, title), nil
}

var titleRe = regexp.MustCompile(`^\s*(\d+)\s*[.:-]\s*(.*?)\s*$`)

// ParseTitle splits "42. Trapping Rain Water" into its number and name.
func ParseTitle(raw string) (int, string, error) {
	m := titleRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, strings.TrimSpace(raw), ErrNoIdentifier
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, strings.TrimSpace(raw), ErrNoIdentifier
	}
	return n, m[2], nil
}

// Site matches tab URLs against the problem-page pattern.
type Site struct {
	re *regexp.Regexp
}

// NewSite compiles pattern, e.g. `^https://leetcode\.com/problems/[^/]+`.
func NewSite(pattern string) (*Site, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile site pattern: %w", err)
	}
	return &Site{re: re}, nil
}

// Matches reports whether url is a problem page.
func (s *Site) Matches(url string) bool {
	return s != nil && s.re.MatchString(url)
}

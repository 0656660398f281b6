package smtpclient

import (
	"strconv"
	"strings"
)

// Verdict is what a reply code means for the command that produced it.
type Verdict int

const (
	// 2xx
	Accepted Verdict = iota
	// 3xx: the server wants more input (DATA, AUTH challenges)
	NeedsContinue
	// Everything else, including lines with no parseable code
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case NeedsContinue:
		return "needs-continue"
	}
	return "rejected"
}

// Classification is the verdict and numeric code of a reply line. Code is 0
// when the line doesn't start with three digits.
type Classification struct {
	Verdict Verdict
	Code    int
}

// OK reports whether the command that produced the reply may proceed, i.e.,
// whether the code starts with 2 or 3.
func (c Classification) OK() bool {
	return c.Verdict != Rejected
}

// Classify reads the code at the start of an SMTP reply line.
func Classify(line string) Classification {
	code, ok := parseCode(line)
	if !ok {
		return Classification{Verdict: Rejected}
	}
	switch code / 100 {
	case 2:
		return Classification{Verdict: Accepted, Code: code}
	case 3:
		return Classification{Verdict: NeedsContinue, Code: code}
	}
	return Classification{Verdict: Rejected, Code: code}
}

func parseCode(line string) (int, bool) {
	if len(line) < 3 {
		return 0, false
	}
	// A fourth character, if any, must be the separator.
	if len(line) > 3 && line[3] != ' ' && line[3] != '-' {
		return 0, false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(line[:3])
	if err != nil || n < 100 {
		return 0, false
	}
	return n, true
}

// Reply is everything the server sent in response to one command. Servers
// may send several "NNN-" lines before a final "NNN " line. Code is the
// final line's.
type Reply struct {
	Code  int
	Lines []string
}

// Classify classifies the reply by its final line.
func (r Reply) Classify() Classification {
	if len(r.Lines) == 0 {
		return Classification{Verdict: Rejected}
	}
	return Classify(r.Lines[len(r.Lines)-1])
}

// String joins the raw reply lines with newlines.
func (r Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// continues reports whether line is a non-final line of a multi-line reply.
func continues(line string) bool {
	_, ok := parseCode(line)
	return ok && len(line) > 3 && line[3] == '-'
}

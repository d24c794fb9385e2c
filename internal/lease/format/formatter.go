package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Invoice numbers follow OUTLETCODE-YYMMDD-NNNN: a 2-8 character
// alphanumeric outlet code, a 6-digit local date and a 4-digit counter.
var numberRe = regexp.MustCompile(`^([A-Z0-9]{2,8})-(\d{6})-(\d{4})$`)

const (
	// MaxCounter is the last counter a single outlet-day can hold.
	MaxCounter = 9999

	dateToken = "060102"
)

// Parsed is the decomposed form of a well-formed invoice number.
type Parsed struct {
	OutletCode string
	DateToken  string
	Counter    int
}

// Prefix builds the lease prefix for an outlet and local date,
// e.g. "BL-240501-".
func Prefix(outletCode string, localDate time.Time) string {
	return strings.ToUpper(strings.TrimSpace(outletCode)) + "-" + localDate.Format(dateToken) + "-"
}

// Format renders a full invoice number.
func Format(outletCode string, localDate time.Time, counter int) (string, error) {
	if counter < 1 || counter > MaxCounter {
		return "", fmt.Errorf("invoice counter out of range: %d", counter)
	}
	out := fmt.Sprintf("%s%04d", Prefix(outletCode, localDate), counter)
	if !numberRe.MatchString(out) {
		return "", fmt.Errorf("invalid invoice number produced: %s", out)
	}
	return out, nil
}

// Parse validates a client-supplied invoice number against the grammar.
func Parse(number string) (Parsed, error) {
	match := numberRe.FindStringSubmatch(strings.TrimSpace(number))
	if match == nil {
		return Parsed{}, fmt.Errorf("malformed invoice number: %q", number)
	}
	counter, err := strconv.Atoi(match[3])
	if err != nil || counter < 1 {
		return Parsed{}, fmt.Errorf("invalid invoice counter: %q", match[3])
	}
	if _, err := time.Parse(dateToken, match[2]); err != nil {
		return Parsed{}, fmt.Errorf("invalid invoice date: %q", match[2])
	}
	return Parsed{
		OutletCode: match[1],
		DateToken:  match[2],
		Counter:    counter,
	}, nil
}

// DateToken renders a local date the way invoice numbers carry it.
func DateToken(localDate time.Time) string {
	return localDate.Format(dateToken)
}

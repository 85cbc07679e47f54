package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	roomRe  = regexp.MustCompile(`^(?i)(?:room\s*)?#?\s*(\d{1,4})$`)
	clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// ParsedRoom holds the structured data derived from a room number.
type ParsedRoom struct {
	Key   string // canonical zero-padded key, e.g. "007", "105"
	Floor int    // hundreds digit: "007" -> 0, "105" -> 1
	Seq   int    // position on the floor: "105" -> 5
}

// ParseRoom normalises a raw room number ("7", "007", " 105 ", "#205").
// Every state slice, wire payload and HTTP route is keyed by ParsedRoom.Key.
func ParseRoom(raw string) (ParsedRoom, error) {
	s := strings.TrimSpace(raw)
	m := roomRe.FindStringSubmatch(s)
	if m == nil {
		return ParsedRoom{}, fmt.Errorf("unable to parse room number: %q", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return ParsedRoom{}, fmt.Errorf("unable to parse room number %q: %w", raw, err)
	}
	return ParsedRoom{
		Key:   fmt.Sprintf("%03d", n),
		Floor: n / 100,
		Seq:   n % 100,
	}, nil
}

// RoomKey is ParseRoom reduced to the canonical key.
func RoomKey(raw string) (string, error) {
	p, err := ParseRoom(raw)
	if err != nil {
		return "", err
	}
	return p.Key, nil
}

// RoomInt returns the numeric form the backend expects in request bodies.
func RoomInt(raw string) (int, error) {
	p, err := ParseRoom(raw)
	if err != nil {
		return 0, err
	}
	return p.Floor*100 + p.Seq, nil
}

// ClockTime validates an "HH:MM" wall-clock value such as a note's afterTime.
func ClockTime(raw string) (hour, minute int, err error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, fmt.Errorf("unable to parse clock time: %q", raw)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("clock time out of range: %q", raw)
	}
	return hour, minute, nil
}

// Package message decodes player feedback datagrams into reactive frames.
//
// A datagram is ASCII text with four comma-separated fields:
//
//	OUTCOME,CORRECT,RANGE,PLAYER_ANSWER
//
// OUTCOME is one of c (correct), h (too high) or l (too low), in any case. The
// remaining fields are decimal integers. An empty PLAYER_ANSWER means there is
// nothing to animate.
package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"libdb.so/fleetglow/internal/gradient"
	"libdb.so/fleetglow/internal/led"
	"libdb.so/fleetglow/ledserial"
)

var (
	// ErrNoData is returned for messages with an empty player answer.
	ErrNoData = errors.New("message carries no player answer")
	// ErrMalformed is returned for messages that cannot be parsed.
	ErrMalformed = errors.New("malformed message")
)

// NumFields is the number of comma-separated fields in a message.
const NumFields = 4

// Outcome is the result of a player's guess.
type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomeCorrect
	OutcomeHigh
	OutcomeLow
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCorrect:
		return "correct"
	case OutcomeHigh:
		return "high"
	case OutcomeLow:
		return "low"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

func parseOutcome(s string) Outcome {
	switch strings.ToLower(s) {
	case "c":
		return OutcomeCorrect
	case "h":
		return OutcomeHigh
	case "l":
		return OutcomeLow
	default:
		return OutcomeUnknown
	}
}

// Message is a decoded feedback message.
type Message struct {
	Outcome Outcome
	// Correct is the correct answer.
	Correct int
	// Range is the tolerance range. It is always at least 1.
	Range int
	// Answer is the player's answer.
	Answer int
}

// Parse decodes a raw datagram. It returns ErrNoData if the player answer is
// empty and an error wrapping ErrMalformed if the message cannot be decoded.
// An unrecognized outcome letter is not an error; it decodes to
// OutcomeUnknown.
func Parse(raw string) (Message, error) {
	fields := strings.Split(raw, ",")
	if len(fields) != NumFields {
		return Message{}, errors.Wrapf(ErrMalformed, "expected %d fields, got %d", NumFields, len(fields))
	}

	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if fields[3] == "" {
		return Message{}, ErrNoData
	}

	var ints [3]int
	for i, name := range [...]string{"correct answer", "range", "player answer"} {
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return Message{}, errors.Wrapf(ErrMalformed, "invalid %s %q", name, fields[i+1])
		}
		ints[i] = v
	}

	m := Message{
		Outcome: parseOutcome(fields[0]),
		Correct: ints[0],
		Range:   ints[1],
		Answer:  ints[2],
	}
	// Games may send inflexible answers with no tolerance at all.
	if m.Range < 1 {
		m.Range = 1
	}

	return m, nil
}

// rangeSpan is how many tolerance ranges away from the correct answer the
// gradient extends.
const rangeSpan = 5

// GradientIndex returns the palette and index that represent how close the
// player's answer was. ok is false for outcomes that do not use a gradient.
func (m Message) GradientIndex() (p led.Palette, i int, ok bool) {
	switch m.Outcome {
	case OutcomeHigh:
		// Closer to the correct answer is closer to white.
		i = gradient.MapRange(m.Answer, m.Correct, m.Correct+m.Range*rangeSpan, gradient.MaxIndex, 0)
		return gradient.BlueToWhite, i, true
	case OutcomeLow:
		i = gradient.MapRange(m.Answer, m.Correct-m.Range*rangeSpan, m.Correct, 0, gradient.MaxIndex)
		return gradient.RedToWhite, i, true
	default:
		return nil, 0, false
	}
}

// Style controls the look of reactive frames.
type Style struct {
	// Correct is the color shown for a correct answer.
	Correct led.RGBColor
	Speed   int
	Length  int
}

// DefaultStyle is white drops at moderate speed and length.
var DefaultStyle = Style{
	Correct: led.RGB(0xFF, 0xFF, 0xFF),
	Speed:   35,
	Length:  79,
}

// Reaction returns the frame to broadcast for the message. ok is false if the
// message should not be broadcast.
func (m Message) Reaction(style Style) (f ledserial.Frame, ok bool) {
	var color led.RGBColor

	switch m.Outcome {
	case OutcomeCorrect:
		color = style.Correct
	case OutcomeHigh, OutcomeLow:
		p, i, _ := m.GradientIndex()
		color = gradient.Lookup(p, i)
	default:
		return ledserial.Frame{}, false
	}

	return ledserial.NewFrame(
		int(color.R()), int(color.G()), int(color.B()),
		style.Speed, style.Length,
	), true
}

package services

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

// Child tag carrying the observation start time.
const StartStampField = "startstamp"

// Submission is an inbound payload flattened to question code => raw value.
type Submission struct {
	FormID int
	Values map[string]string
}

// Take returns and removes a reserved field.
func (s *Submission) Take(code string) (string, bool) {
	v, ok := s.Values[code]
	if ok {
		delete(s.Values, code)
	}
	return v, ok
}

// ParseSubmission reads an XML submission: the root element carries the form
// id attribute and each child element is a question code holding the raw
// value. When a code repeats only its first element counts. An empty
// element is kept as an empty value.
func ParseSubmission(r io.Reader) (*Submission, error) {
	dec := xml.NewDecoder(r)

	sub := &Submission{Values: make(map[string]string)}
	var (
		depth      int
		sawRoot    bool
		rawID      string
		field      string
		collecting bool
		text       strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.MalformedSubmission("unparseable submission", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				sawRoot = true
				for _, attr := range t.Attr {
					if attr.Name.Local == "id" {
						rawID = strings.TrimSpace(attr.Value)
					}
				}
			case 2:
				field = t.Name.Local
				_, seen := sub.Values[field]
				collecting = !seen
				text.Reset()
			}
		case xml.CharData:
			if depth >= 2 && collecting {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && collecting {
				sub.Values[field] = strings.TrimSpace(text.String())
				collecting = false
			}
			depth--
		}
	}

	if !sawRoot || rawID == "" {
		return nil, fault.MalformedSubmission("no form id", nil)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		return nil, fault.MalformedSubmission("invalid form id "+strconv.Quote(rawID), err)
	}
	sub.FormID = id

	return sub, nil
}

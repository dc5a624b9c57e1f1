package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the primitives the outbound bridge needs.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName  xml.Name  `xml:"Dial"`
	CallerID string    `xml:"callerId,attr,omitempty"`
	Number   string    `xml:"Number,omitempty"`
	Sip      *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderBridge returns TwiML that greets the answering party and dials target.
func RenderBridge(target, callerID, greeting string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("telephony: dial target required")
	}
	var r twimlResponse
	if greeting != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: greeting})
	}
	d := twimlDial{CallerID: callerID}
	// Prefer SIP if it looks like sip:... otherwise treat as a PSTN number.
	if strings.HasPrefix(strings.ToLower(target), "sip:") {
		d.Sip = &twimlSip{URI: target}
	} else {
		d.Number = target
	}
	r.Verbs = append(r.Verbs, d)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

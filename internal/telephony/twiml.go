package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It avoids any provider SDK dependency and only carries the verbs this service emits.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func render(r twimlResponse, header bool) (string, error) {
	var buf bytes.Buffer
	if header {
		buf.WriteString(xml.Header)
	}
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlayAndHangup builds the voicemail drop document: play the recording, then hang up.
func RenderPlayAndHangup(messageURL string) (string, error) {
	if strings.TrimSpace(messageURL) == "" {
		return "", errors.New("telephony: message url required for play")
	}
	r := twimlResponse{Verbs: []any{twimlPlay{URL: messageURL}, twimlHangup{}}}
	return render(r, false)
}

// EmptyResponse acknowledges a status callback without instructing the call.
func EmptyResponse() string {
	return xml.Header + "<Response></Response>"
}

package telephony

import (
	"encoding/xml"
	"fmt"
	"net/url"
)

// AnswerParams carries the per-call options the media bridge needs, encoded
// into the stream URL's query string.
type AnswerParams struct {
	Host           string // e.g. "call-engine.example.com"
	SpeakFirst     bool
	InitialMessage string
}

type xmlResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Connect xmlConnect `xml:"Connect"`
}

type xmlConnect struct {
	Stream xmlStream `xml:"Stream"`
}

type xmlStream struct {
	URL string `xml:"url,attr"`
}

// RenderAnswer builds the XML document that instructs the provider to open a
// bidirectional media stream to /media-stream, carrying speakFirst and
// initialMessage as query parameters. Deterministic given its inputs.
func RenderAnswer(p AnswerParams) ([]byte, error) {
	q := url.Values{}
	q.Set("speakFirst", fmt.Sprintf("%t", p.SpeakFirst))
	q.Set("initialMessage", p.InitialMessage)

	streamURL := fmt.Sprintf("wss://%s/media-stream?%s", p.Host, q.Encode())

	doc := xmlResponse{Connect: xmlConnect{Stream: xmlStream{URL: streamURL}}}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render answer xml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

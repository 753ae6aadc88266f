package http

import (
	"context"
	"encoding/xml"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/callrelay/internal/config"
)

// MediaStreamPath is where the telephony provider opens the media stream.
const MediaStreamPath = "/media-stream"

// PublicServer serves the voice webhook and the media stream endpoint.
type PublicServer struct {
	echo       *echo.Echo
	answer     config.Answer
	publicHost string
}

// NewPublicServer creates the provider-facing server. mediaStream handles
// WebSocket upgrades on MediaStreamPath.
func NewPublicServer(cfg *config.Config, script *config.Script, mediaStream echo.HandlerFunc) *PublicServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &PublicServer{
		echo:       e,
		answer:     script.Answer,
		publicHost: cfg.PublicHost,
	}

	e.GET("/", s.handleRoot)
	e.Any("/incoming-call", s.handleIncomingCall)
	e.GET(MediaStreamPath, mediaStream)
	return s
}

// Start starts the HTTP server.
func (s *PublicServer) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *PublicServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted in tests.
func (s *PublicServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *PublicServer) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Twilio Media Stream Server is running!"})
}

func (s *PublicServer) handleIncomingCall(c echo.Context) error {
	host := s.publicHost
	if host == "" {
		host = c.Request().Host
	}
	body, err := AnswerTwiML(s.answer, "wss://"+host+MediaStreamPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render TwiML")
	}
	return c.Blob(http.StatusOK, "text/xml", body)
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type connectVerb struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  streamNoun
}

type streamNoun struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// AnswerTwiML renders the call answer: the scripted lines separated by pauses,
// then a bidirectional stream to streamURL.
func AnswerTwiML(a config.Answer, streamURL string) ([]byte, error) {
	resp := twimlResponse{}
	for i, line := range a.Say {
		if i > 0 && a.PauseSeconds > 0 {
			resp.Verbs = append(resp.Verbs, pauseVerb{Length: a.PauseSeconds})
		}
		resp.Verbs = append(resp.Verbs, sayVerb{Voice: a.Voice, Language: a.Language, Text: line})
	}
	resp.Verbs = append(resp.Verbs, connectVerb{Stream: streamNoun{URL: streamURL}})

	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

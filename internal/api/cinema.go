package api

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
)

// Default player assets. Operators serving offline can point these at a local
// copy of video.js.
const (
	DefaultPlayerCSSURL = "https://vjs.zencdn.net/8.10.0/video-js.css"
	DefaultPlayerJSURL  = "https://vjs.zencdn.net/8.10.0/video.min.js"
)

// CinemaConfig enables the HTML video player for video/* content.
type CinemaConfig struct {
	Enabled      bool
	PlayerCSSURL string
	PlayerJSURL  string
}

var cinemaTemplate = template.Must(template.New("cinema").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Cinema Mode</title>
<link rel="stylesheet" href="{{.CSSURL}}">
<style>
body { margin: 0; background-color: black; display: flex; align-items: center; justify-content: center; height: 100vh; }
</style>
</head>
<body>
<video id="player" class="video-js vjs-big-play-centered" controls preload="auto" style="width:90%; height:auto;">
    <source src="{{.VideoURL}}" type="{{.MimeType}}">
</video>
<script src="{{.JSURL}}"></script>
<script>
var player = videojs('player', {
    autoplay: false,
    controls: true,
    preload: 'auto'
});
</script>
</body>
</html>
`))

type cinemaPage struct {
	cssURL string
	jsURL  string
}

type cinemaData struct {
	CSSURL   string
	JSURL    string
	VideoURL string
	MimeType string
}

func newCinemaPage(cfg CinemaConfig) (*cinemaPage, error) {
	page := &cinemaPage{cssURL: cfg.PlayerCSSURL, jsURL: cfg.PlayerJSURL}
	if page.cssURL == "" {
		page.cssURL = DefaultPlayerCSSURL
	}
	if page.jsURL == "" {
		page.jsURL = DefaultPlayerJSURL
	}
	// fail at startup rather than on the first video request
	if err := cinemaTemplate.Execute(&bytes.Buffer{}, cinemaData{CSSURL: page.cssURL, JSURL: page.jsURL}); err != nil {
		return nil, fmt.Errorf("cinema template: %w", err)
	}
	return page, nil
}

// render writes the player page pointing at videoURL. The page is rendered
// into a buffer so a template error never leaves a half-written 200.
func (p *cinemaPage) render(w http.ResponseWriter, videoURL, mimeType string) error {
	var buf bytes.Buffer
	err := cinemaTemplate.Execute(&buf, cinemaData{
		CSSURL:   p.cssURL,
		JSURL:    p.jsURL,
		VideoURL: videoURL,
		MimeType: mimeType,
	})
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Server error: "+err.Error())
		return fmt.Errorf("render cinema page: %w", err)
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, err = buf.WriteTo(w)
	return err
}

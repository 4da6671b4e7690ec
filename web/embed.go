package webassets

import "embed"

// FS contains the embedded pages and the briefing client script.
//
//go:embed pages/*.html briefing-client.js
var FS embed.FS

// Paths of embedded assets within FS.
const (
	IndexPage        = "pages/index.html"
	BriefingPage     = "pages/briefing.html"
	BriefingClientJS = "briefing-client.js"
)

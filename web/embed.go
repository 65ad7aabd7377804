// Package web embeds the standalone artifact viewer page.
package web

import "embed"

// Viewer contains the viewer page template. The host injects the session's
// artifacts as window.__DATA__.
//
//go:embed viewer/index.html
var Viewer embed.FS

// Package transcript exports a session history for reading outside the app.
//
// Markdown output puts each message under a heading naming the speaker.
// HTML output converts that Markdown with goldmark (GFM extensions, hard
// wraps) and wraps it in a small standalone page, so assistant replies keep
// their bold, italics, headers and lists.
package transcript

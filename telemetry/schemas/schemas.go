// Package schemas embeds the JSON schemas for device reports.
package schemas

import "embed"

//go:embed *.json
var FS embed.FS

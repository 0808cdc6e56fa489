// Package web holds the browser widget served by kata serve.
package web

import "embed"

//go:embed dist
var Assets embed.FS

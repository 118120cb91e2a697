// Package web holds the Telegram Mini App front end
package web

import "embed"

//go:embed index.html
var Content embed.FS

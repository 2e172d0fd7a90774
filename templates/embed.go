// Package templates embeds the default dialer configuration.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS

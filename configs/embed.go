// Package configs provides the embedded configuration template.
//
// The template is embedded at build time so `smartnotes config init` works
// in every distribution, including plain `go install` builds.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `smartnotes config init` to <data_dir>/smartnotes.yaml.
//
//go:embed config.example.yaml
var ConfigTemplate string

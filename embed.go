// Package mycochat serves a mushroom identification chat assistant. The root package only carries the
// embedded web assets; the server and the CLI live under cmd/mycochat.
package mycochat

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the web interface. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS holds the stylesheet and script of the web interface.
//
//go:embed static/*
var StaticFS embed.FS

package chunker

import "github.com/substrat/ragpipe/internal/models"

// breakpoint is one entry of an ordered cut-point table. Tables are
// sorted by descending weight; the first pattern found in the search
// window wins.
type breakpoint struct {
	pattern string
	weight  int
}

// codeBreakpoints prefers block and statement boundaries, falling back
// to whitespace.
var codeBreakpoints = []breakpoint{
	{"\n}\n", 100},
	{"}\n", 95},
	{"\nend\n", 90},
	{";\n", 85},
	{"\n\n", 80},
	{"{\n", 70},
	{")\n", 65},
	{";", 55},
	{"\n", 40},
	{" ", 10},
}

// textBreakpoints prefers paragraph, sentence, and list-item
// boundaries, falling back to a plain space.
var textBreakpoints = []breakpoint{
	{"\n\n", 100},
	{".\n", 90},
	{"!\n", 88},
	{"?\n", 88},
	{". ", 85},
	{"! ", 82},
	{"? ", 82},
	{"\n- ", 70},
	{"\n* ", 70},
	{"\n", 40},
	{"; ", 30},
	{", ", 20},
	{" ", 10},
}

func breakpointsFor(contentType models.ContentType) []breakpoint {
	if contentType == models.ContentTypeCode {
		return codeBreakpoints
	}
	return textBreakpoints
}

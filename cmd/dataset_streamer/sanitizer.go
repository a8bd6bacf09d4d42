package main

import (
	"context"
	"regexp"
	"strings"

	"github.com/wbrown/token_stream"
	"github.com/wbrown/token_stream/dataset"
)

var extraWhitespace = regexp.MustCompile("[[:space:]]+")

// SanitizeText
// Normalizes whitespace in a document: `\r` is dropped, runs of newlines
// collapse to one, an escaped `\n` becomes a newline, ` :` becomes `:`,
// and every line has its inner whitespace squeezed and its ends trimmed.
func SanitizeText(text string) string {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		last := rune(0)
		if len(out) > 0 {
			last = out[len(out)-1]
		}
		switch {
		case r == '\r':
		case r == '\n' && last == '\n':
		case r == 'n' && last == '\\':
			out[len(out)-1] = '\n'
		case r == ':' && last == ' ':
			out[len(out)-1] = ':'
		case r == '\t':
			out = append(out, ' ')
		default:
			out = append(out, r)
		}
	}
	lines := strings.Split(string(out), "\n")
	for lineIdx, line := range lines {
		lines[lineIdx] = strings.TrimSpace(
			extraWhitespace.ReplaceAllString(line, " "))
	}
	return strings.Join(lines, "\n")
}

// sanitizingReader sanitizes every document of the wrapped reader.
type sanitizingReader struct {
	token_stream.BatchReader
}

func (reader sanitizingReader) Next(ctx context.Context) (
	dataset.DocumentBatch, error) {
	batch, nextErr := reader.BatchReader.Next(ctx)
	if nextErr != nil {
		return batch, nextErr
	}
	for textIdx := range batch.Texts {
		batch.Texts[textIdx] = SanitizeText(batch.Texts[textIdx])
	}
	return batch, nil
}

package hl7v2

import (
	"regexp"
	"strings"
)

// messageBoundary matches the blank lines that separate messages in a
// batch file.
var messageBoundary = regexp.MustCompile(`\n{2,}`)

var lineEndings = strings.NewReplacer("\n\r", "\n", "\r", "\n")

// SplitMessages splits the text of an uploaded file into raw messages in file
// order. "\n\r" and lone "\r" are normalised to "\n", messages are separated
// by two or more consecutive newlines, and blank pieces are dropped.
func SplitMessages(text string) []string {
	normalized := lineEndings.Replace(text)

	var messages []string
	for _, piece := range messageBoundary.Split(normalized, -1) {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		messages = append(messages, piece)
	}
	return messages
}

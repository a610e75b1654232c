package mock

import (
	"math/rand/v2"
	"strings"
)

var loremWords = strings.Fields(`lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod
tempor incididunt ut labore et dolore magna aliqua enim ad minim veniam quis nostrud exercitation
ullamco laboris nisi aliquip ex ea commodo consequat duis aute irure in reprehenderit voluptate
velit esse cillum fugiat nulla pariatur excepteur sint occaecat cupidatat non proident sunt culpa
qui officia deserunt mollit anim id est laborum`)

// sentence returns a capitalised sentence of 4 to 12 filler words ending in a full stop.
func sentence() string {
	n := 4 + rand.IntN(9)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.IntN(len(loremWords))]
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ") + "."
}

func paragraph(lines int) string {
	sentences := make([]string, lines)
	for i := range sentences {
		sentences[i] = sentence()
	}
	return strings.Join(sentences, "\n")
}

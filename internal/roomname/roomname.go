// Package roomname makes short, speakable room names for sharing a session
// out of band.
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"raccoon", "beaver", "seahorse", "starfish", "dolphin", "whale", "narwhal", "penguin", "flamingo",
	"pelican", "sparrow", "robin", "toucan", "parrot", "canary",
}

var things = []string{
	"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
	"sunbeam", "stardust", "muffin", "bubble", "sprout", "marble", "maple", "cocoa", "breeze", "meadow",
	"willow", "ember", "pixel", "biscuit", "toffee", "waffle", "dumpling", "noodle", "pancake",
}

// Generate returns a name like "sleepy-otter-comet".
func Generate() string {
	words := make([]string, 0, 3)
	for _, list := range [][]string{adjectives, animals, things} {
		words = append(words, list[randomIndex(len(list))])
	}
	return strings.Join(words, "-")
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("roomname: crypto/rand unavailable: " + err.Error())
	}
	return int(n.Int64())
}

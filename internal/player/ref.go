// Package player parses and normalizes the "GameName#TagLine" references
// used to address players over the API.
package player

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tagRegex matches a tag line: 2-5 letters or digits.
var tagRegex = regexp.MustCompile(`^[\p{L}\p{N}]{2,5}$`)

const maxNameLen = 16

var ErrInvalidRef = errors.New("player: invalid player reference")

// Ref identifies a player by game name and tag line.
type Ref struct {
	GameName string `json:"game_name"`
	TagLine  string `json:"tag_line"`
}

// ParseRef parses "GameName#TagLine". The split is on the last '#'.
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndex(s, "#")
	if i < 0 {
		return Ref{}, fmt.Errorf("%w: %q (expected Name#Tag)", ErrInvalidRef, s)
	}
	return NewRef(s[:i], s[i+1:])
}

// NewRef validates a game name and tag line given separately.
func NewRef(gameName, tagLine string) (Ref, error) {
	gameName = strings.TrimSpace(gameName)
	tagLine = strings.TrimSpace(tagLine)

	if gameName == "" || len([]rune(gameName)) > maxNameLen || strings.Contains(gameName, "#") {
		return Ref{}, fmt.Errorf("%w: bad game name %q", ErrInvalidRef, gameName)
	}
	if !tagRegex.MatchString(tagLine) {
		return Ref{}, fmt.Errorf("%w: bad tag line %q", ErrInvalidRef, tagLine)
	}
	return Ref{GameName: gameName, TagLine: tagLine}, nil
}

func (r Ref) String() string {
	return r.GameName + "#" + r.TagLine
}

// Key is the case-insensitive lookup key for r. Two refs with the same
// key name the same player.
func (r Ref) Key() string {
	return strings.ToLower(r.GameName) + "#" + strings.ToLower(r.TagLine)
}

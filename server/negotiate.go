package server

import (
	"errors"
	"strings"

	"github.com/munnerz/goautoneg"
)

var errInvalidMediaType = errors.New("invalid media type")

// mediaType is a supported response type. A version, when set, must agree
// with the version parameter of an accepted range.
type mediaType struct {
	typ, subtype string
	version      string
}

var (
	textFormat004 = mediaType{"text", "plain", "0.0.4"}
	textPlain     = mediaType{"text", "plain", ""}
	applicationJS = mediaType{"application", "json", ""}
	textHTML      = mediaType{"text", "html", ""}
)

func (m mediaType) String() string {
	return m.typ + "/" + m.subtype
}

// matches reports whether m is covered by the accepted range a.
// Wildcards in a match anything.
func (m mediaType) matches(a goautoneg.Accept) bool {
	if a.Type != "*" && !strings.EqualFold(a.Type, m.typ) {
		return false
	}
	if a.SubType != "*" && !strings.EqualFold(a.SubType, m.subtype) {
		return false
	}
	if v, ok := a.Params["version"]; ok && m.version != "" && v != m.version {
		return false
	}
	return true
}

// parseAccept parses an Accept header value. The ranges come back ordered by
// weight, heaviest first. An empty value accepts anything.
func parseAccept(header string) ([]goautoneg.Accept, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	accepted := goautoneg.ParseAccept(header)
	if len(accepted) == 0 {
		return nil, errInvalidMediaType
	}
	return accepted, nil
}

// negotiate picks the first supported type covered by the heaviest accepted
// range. With nothing accepted the first supported type is used.
func negotiate(accepted []goautoneg.Accept, supported ...mediaType) (mediaType, bool) {
	if len(accepted) == 0 {
		return supported[0], true
	}
	for _, a := range accepted {
		if a.Q <= 0 {
			continue
		}
		for _, s := range supported {
			if s.matches(a) {
				return s, true
			}
		}
	}
	return mediaType{}, false
}

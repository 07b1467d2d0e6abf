package controller

import "strings"

// Orientation names used outside this package, mapped to the controller's
// rotate "scale" values.
var orientationScales = map[string]string{
	"landscape":         "landscapePrim",
	"portrait":          "portraitPrim",
	"landscape_flipped": "landscapeSec",
	"portrait_flipped":  "portraitSec",
}

// Source names mapped to the controller's "mode" values.
var sourceModes = map[string]string{
	"website": "web",
	"cast":    "cast",
}

// OrientationScale returns the controller scale for an orientation name.
// Controller scale values are accepted as-is.
func OrientationScale(orientation string) (string, bool) {
	if scale, ok := orientationScales[strings.ToLower(orientation)]; ok {
		return scale, true
	}
	for _, scale := range orientationScales {
		if scale == orientation {
			return scale, true
		}
	}
	return "", false
}

// OrientationFromScale returns the orientation name for a controller scale.
func OrientationFromScale(scale string) (string, bool) {
	for name, s := range orientationScales {
		if strings.EqualFold(s, scale) {
			return name, true
		}
	}
	return "", false
}

// SourceMode returns the controller mode for a source name.
func SourceMode(source string) (string, bool) {
	mode, ok := sourceModes[strings.ToLower(source)]
	return mode, ok
}

// SourceFromMode maps a controller mode onto a source name. Every mode other
// than casting renders a page or signage, which is reported as "website".
func SourceFromMode(mode string) string {
	switch strings.ToLower(mode) {
	case "":
		return ""
	case "cast", "casting", "chromecast":
		return "cast"
	default:
		return "website"
	}
}

package mirror

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/taskmirror/taskmirror/internal/remote"
)

// Remote property names the mirror owns. The relation properties are not
// listed here: their names belong to the remote schema and are discovered
// at runtime (see DetectRelationCaps).
const (
	PropTitle        = "Name"
	PropLocalID      = "Task ID"
	PropTag          = "Tag"
	PropStatus       = "Status"
	PropPriority     = "Priority"
	PropDescription  = "Description"
	PropDetails      = "Details"
	PropTestStrategy = "Test Strategy"
)

// Marker builds the local-id marker stored on every mirrored page:
// "<tag>:<flattenedId>". A page without this marker was not created by the
// mirror and is never touched by repair.
func Marker(tag, id string) string {
	return tag + ":" + id
}

// ParseMarker splits a marker back into tag and flattened id. The id half
// may itself contain no colon, so the first colon is the separator.
func ParseMarker(marker string) (tag, id string, ok bool) {
	i := strings.IndexByte(marker, ':')
	if i <= 0 || i == len(marker)-1 {
		return "", "", false
	}
	return marker[:i], marker[i+1:], true
}

// BuildProperties builds the content property payload for one entity.
// Relation properties are layered on separately by the hierarchy
// reconciler, since they depend on schema capabilities and the identity
// map.
func BuildProperties(e Entity) remote.PropertyMap {
	props := remote.PropertyMap{
		PropTitle:   remote.Title(e.Task.Title),
		PropLocalID: remote.RichText(Marker(e.Tag, e.ID)),
		PropTag:     remote.Select(e.Tag),
	}
	if e.Task.Status != "" {
		props[PropStatus] = remote.Select(e.Task.Status)
	}
	if e.Task.Priority != "" {
		props[PropPriority] = remote.Select(e.Task.Priority)
	}
	if e.Task.Description != "" {
		props[PropDescription] = remote.RichText(clip(e.Task.Description))
	}
	if e.Task.Details != "" {
		props[PropDetails] = remote.RichText(clip(e.Task.Details))
	}
	if e.Task.TestStrategy != "" {
		props[PropTestStrategy] = remote.RichText(clip(e.Task.TestStrategy))
	}
	return props
}

// clip bounds free text to the remote API's per-fragment limit. The cut
// backs up to a rune boundary so the fragment stays valid UTF-8.
func clip(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s… (%d more characters)", s[:cut], len(s)-cut)
}

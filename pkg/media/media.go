package media

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Category is the closed set of content kinds a captured message can carry.
type Category string

const (
	Text      Category = "text"
	Photo     Category = "photo"
	Video     Category = "video"
	Audio     Category = "audio"
	Voice     Category = "voice"
	Animation Category = "animation"
	Document  Category = "document"
	Sticker   Category = "sticker"
)

// Categories returns every category in stable order.
func Categories() []Category {
	return []Category{Text, Photo, Video, Audio, Voice, Animation, Document, Sticker}
}

// Valid reports whether the value is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case Text, Photo, Video, Audio, Voice, Animation, Document, Sticker:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory normalizes user-supplied input into a Category.
func ParseCategory(input string) (Category, error) {
	category := Category(strings.ToLower(strings.TrimSpace(input)))
	if !category.Valid() {
		return "", fmt.Errorf("unknown media category %q", input)
	}

	return category, nil
}

// extensionCategories decides categories for files without an explicit hint.
//
// The ogg extension is claimed by both plain audio and voice notes; the
// table sides with audio, and callers wanting a voice note say so via hint.
var extensionCategories = map[string]Category{
	"jpg":  Photo,
	"jpeg": Photo,
	"png":  Photo,
	"svg":  Photo,
	"webp": Photo,
	"bmp":  Photo,
	"jfif": Photo,
	"heic": Photo,
	"heif": Photo,

	"mp4": Video,
	"mov": Video,
	"avi": Video,
	"mkv": Video,
	"m4v": Video,
	"3gp": Video,

	"mp3":  Audio,
	"wav":  Audio,
	"flac": Audio,
	"m4a":  Audio,
	"ogg":  Audio,
	"aac":  Audio,

	"oga":  Voice,
	"opus": Voice,

	"gif": Animation,
}

// Classify maps a file name to its media category.
//
// A valid hint always wins. Otherwise the extension table decides, and
// anything unrecognized is a document. Classify is total: it never fails.
func Classify(name string, hint Category) Category {
	if hint.Valid() {
		return hint
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
	if category, ok := extensionCategories[ext]; ok {
		return category
	}

	return Document
}

package message

import (
	"context"
	"encoding/base64"
	"fmt"
)

// MediaSource says where the gateway finds an image or voice payload. Base64
// and Data are two spellings of the inline payload and may not both be set.
type MediaSource struct {
	ID     string
	URL    string
	Path   string
	Base64 string
	Data   []byte
}

func (s MediaSource) inline() (string, error) {
	if s.Base64 != "" && len(s.Data) > 0 {
		return "", fmt.Errorf("%w: base64 and raw data are mutually exclusive", ErrArgument)
	}
	if len(s.Data) > 0 {
		return base64.StdEncoding.EncodeToString(s.Data), nil
	}
	return s.Base64, nil
}

// Image is a picture. On the wire the id key is "imageId".
type Image struct {
	ImageID string `json:"imageId,omitempty"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
	Base64  string `json:"base64,omitempty"`
	Extra   Fields `json:"-"`
}

// NewImage builds an Image, encoding raw Data to base64.
func NewImage(src MediaSource) (Image, error) {
	b64, err := src.inline()
	if err != nil {
		return Image{}, err
	}
	return Image{ImageID: src.ID, URL: src.URL, Path: src.Path, Base64: b64}, nil
}

func (Image) Kind() string { return "Image" }
func (Image) Display() string { return "[Image]" }
func (Image) Prepare(context.Context) error { return nil }
func (i Image) extra() Fields { return i.Extra }
func (i *Image) setExtra(f Fields) { i.Extra = f }

// Flash converts the image to a flash image with the same payload.
func (i Image) Flash() FlashImage { return FlashImage(i) }

func (i Image) equal(o Element) bool {
	j, ok := o.(Image)
	return ok && i.ImageID == j.ImageID && i.URL == j.URL && i.Path == j.Path &&
		i.Base64 == j.Base64 && i.Extra.Equal(j.Extra)
}

// FlashImage is an image that disappears after viewing.
type FlashImage Image

func NewFlashImage(src MediaSource) (FlashImage, error) {
	img, err := NewImage(src)
	return FlashImage(img), err
}

func (FlashImage) Kind() string { return "FlashImage" }
func (FlashImage) Display() string { return "[FlashImage]" }
func (FlashImage) Prepare(context.Context) error { return nil }
func (f FlashImage) extra() Fields { return f.Extra }
func (f *FlashImage) setExtra(x Fields) { f.Extra = x }

// Normal converts the flash image back to a regular image.
func (f FlashImage) Normal() Image { return Image(f) }

func (f FlashImage) equal(o Element) bool {
	g, ok := o.(FlashImage)
	return ok && Image(f).equal(Image(g))
}

// Voice is an audio clip. Length is in seconds.
type Voice struct {
	VoiceID string `json:"voiceId,omitempty"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
	Base64  string `json:"base64,omitempty"`
	Length  int64  `json:"length,omitempty"`
	Extra   Fields `json:"-"`
}

func NewVoice(src MediaSource, length int64) (Voice, error) {
	b64, err := src.inline()
	if err != nil {
		return Voice{}, err
	}
	return Voice{VoiceID: src.ID, URL: src.URL, Path: src.Path, Base64: b64, Length: length}, nil
}

func (Voice) Kind() string { return "Voice" }
func (Voice) Display() string { return "[Voice]" }
func (Voice) Prepare(context.Context) error { return nil }
func (v Voice) extra() Fields { return v.Extra }
func (v *Voice) setExtra(f Fields) { v.Extra = f }

func (v Voice) equal(o Element) bool {
	w, ok := o.(Voice)
	return ok && v.VoiceID == w.VoiceID && v.URL == w.URL && v.Path == w.Path &&
		v.Base64 == w.Base64 && v.Length == w.Length && v.Extra.Equal(w.Extra)
}

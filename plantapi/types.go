package plantapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	ErrEmptyImage      = errors.New("image is empty")
	ErrUnsupportedType = errors.New("unsupported image type, expected jpeg or png")
)

// Image is an uploaded leaf photo. It is never modified after creation.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewImage builds an Image, sniffing the content type when the declared one
// is missing or generic.
func NewImage(filename, contentType string, data []byte) *Image {
	ct := normalizeContentType(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalizeContentType(http.DetectContentType(data))
	}
	filename = cleanFilename(filename)
	if filename == "" {
		filename = "image" + extensionFor(ct)
	}
	return &Image{
		Filename:    filename,
		ContentType: ct,
		Data:        data,
	}
}

// cleanFilename drops any directory part and control characters, since the
// name ends up in a multipart header.
func cleanFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return "image/jpeg"
	}
	return ct
}

func extensionFor(ct string) string {
	switch ct {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}

// Validate checks the image is non-empty and a jpeg or png.
func (img *Image) Validate() error {
	if img == nil || len(img.Data) == 0 {
		return ErrEmptyImage
	}
	switch img.ContentType {
	case "image/jpeg", "image/png":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, img.ContentType)
	}
}

// Reader returns a fresh reader positioned at the start of the image.
func (img *Image) Reader() io.Reader {
	return bytes.NewReader(img.Data)
}

// DataURL encodes the image for inline display.
func (img *Image) DataURL() string {
	return "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Key identifies the image by content.
func (img *Image) Key() string {
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:])
}

type Prediction struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

// Percent formats the confidence like "97.50%".
func (p Prediction) Percent() string {
	return fmt.Sprintf("%.2f%%", p.Confidence*100)
}

type Result struct {
	Predictions    []Prediction `json:"predictions"`
	AnnotatedImage string       `json:"annotated_image,omitempty"`
}

func (r *Result) Empty() bool {
	return r == nil || len(r.Predictions) == 0
}

// Top returns the first prediction, which the API orders by confidence.
func (r *Result) Top() (Prediction, bool) {
	if r.Empty() {
		return Prediction{}, false
	}
	return r.Predictions[0], true
}

// HasClass reports whether any prediction carries label, ignoring case.
func (r *Result) HasClass(label string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Predictions {
		if strings.EqualFold(p.ClassName, label) {
			return true
		}
	}
	return false
}

// DecodeAnnotated decodes the data-URL encoded annotated image. It returns
// nil data when the result carries no image.
func (r *Result) DecodeAnnotated() ([]byte, string, error) {
	if r == nil || r.AnnotatedImage == "" {
		return nil, "", nil
	}

	mime := "image/jpeg"
	payload := r.AnnotatedImage
	if strings.HasPrefix(payload, "data:") {
		head, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed annotated image data url")
		}
		payload = rest
		head = strings.TrimPrefix(head, "data:")
		if m, _, _ := strings.Cut(head, ";"); m != "" {
			mime = m
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding annotated image: %w", err)
	}
	return data, mime, nil
}

var displayableImage = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// AnnotatedDataURL returns the annotated image as a re-encoded data URL
// suitable for an <img> src. Payloads that do not decode, or that are not
// images, yield "".
func (r *Result) AnnotatedDataURL() string {
	data, mime, err := r.DecodeAnnotated()
	if err != nil || len(data) == 0 || !displayableImage[mime] {
		return ""
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

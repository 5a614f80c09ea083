package plantapi

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestPredictSendsMultipartFile(t *testing.T) {
	var gotPath, gotName, gotType string
	var gotData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("no file field: %s", err)
			http.Error(w, "bad", 400)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotType = hdr.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"predictions":[{"class_name":"Tomato","confidence":0.91}],"annotated_image":"data:image/png;base64,aGk="}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	img := NewImage("leaf.png", "image/png", pngHeader)

	res, err := c.Predict(context.Background(), ModeSpecies, img)
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/predict/species" {
		t.Fatalf("wrong path %q", gotPath)
	}
	if gotName != "leaf.png" || gotType != "image/png" {
		t.Fatalf("wrong file metadata: %q %q", gotName, gotType)
	}
	if string(gotData) != string(pngHeader) {
		t.Fatalf("uploaded bytes differ")
	}

	top, ok := res.Top()
	if !ok || top.ClassName != "Tomato" || top.Confidence != 0.91 {
		t.Fatalf("unexpected top prediction: %+v", top)
	}

	data, mime, err := res.DecodeAnnotated()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" || mime != "image/png" {
		t.Fatalf("unexpected annotated image %q %q", data, mime)
	}
}

func TestPredictRereadsImageEachCall(t *testing.T) {
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "bad", 400)
			return
		}
		b, _ := io.ReadAll(f)
		sizes = append(sizes, len(b))
		w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	img := NewImage("leaf.png", "image/png", pngHeader)
	for _, m := range Modes {
		if _, err := c.Predict(context.Background(), m, img); err != nil {
			t.Fatal(err)
		}
	}

	for _, s := range sizes {
		if s != len(pngHeader) {
			t.Fatalf("expected every upload to carry the full image, got sizes %v", sizes)
		}
	}
}

func TestPredictNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Predict(context.Background(), ModeBinary, NewImage("a.jpg", "image/jpeg", []byte{0xff, 0xd8, 0xff}))

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Mode != ModeBinary || se.Body != "model not loaded" {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestPredictBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Predict(context.Background(), ModeDiseases, NewImage("a.png", "image/png", pngHeader))
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWarmup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" || r.Method != "GET" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Warmup(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv.Close()
	if err := NewClient(srv.URL).Warmup(context.Background()); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestImageValidate(t *testing.T) {
	cases := []struct {
		name string
		img  *Image
		want error
	}{
		{"nil", nil, ErrEmptyImage},
		{"empty", NewImage("a.png", "image/png", nil), ErrEmptyImage},
		{"gif", NewImage("a.gif", "image/gif", []byte("GIF89a")), ErrUnsupportedType},
		{"jpg alias", NewImage("a.jpg", "image/jpg", []byte{0xff, 0xd8, 0xff}), nil},
		{"sniffed png", NewImage("", "", pngHeader), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.img.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %s", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHasClassIgnoresCaseAndConfidence(t *testing.T) {
	r := &Result{Predictions: []Prediction{
		{ClassName: "healthy", Confidence: 0.9},
		{ClassName: "DISEASE", Confidence: 0.1},
	}}
	if !r.HasClass("disease") {
		t.Fatal("expected disease label to match case-insensitively")
	}
	if r.HasClass("rust") {
		t.Fatal("unexpected match")
	}
}

func TestAnnotatedDataURL(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("img"))
	r := &Result{AnnotatedImage: raw}
	if got := r.AnnotatedDataURL(); got != "data:image/jpeg;base64,"+raw {
		t.Fatalf("unexpected data url %q", got)
	}

	data, mime, err := r.DecodeAnnotated()
	if err != nil || string(data) != "img" || mime != "image/jpeg" {
		t.Fatalf("unexpected decode: %q %q %v", data, mime, err)
	}

	if (&Result{}).AnnotatedDataURL() != "" {
		t.Fatal("expected empty url")
	}

	for _, bad := range []string{
		"data:image/jpeg;base64,%%%not-base64",
		`data:image/jpeg;base64,aGk="><script>alert(1)</script>`,
		"data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte("<b>hi</b>")),
		"data:image/png;base64",
	} {
		if got := (&Result{AnnotatedImage: bad}).AnnotatedDataURL(); got != "" {
			t.Fatalf("expected %q to be dropped, got %q", bad, got)
		}
	}
}

func TestNewImageCleansFilename(t *testing.T) {
	cases := map[string]string{
		"leaf.png":              "leaf.png",
		"leaf\r\nX-Evil: 1.png": "leafX-Evil: 1.png",
		"../../etc/leaf.png":    "leaf.png",
		"  \tleaf\x00.png ":     "leaf.png",
		"\r\n":                  "image.png",
	}
	for in, want := range cases {
		img := NewImage(in, "image/png", pngHeader)
		if img.Filename != want {
			t.Fatalf("NewImage(%q).Filename = %q, want %q", in, img.Filename, want)
		}
		cd := fileHeader(img).Get("Content-Disposition")
		if strings.ContainsAny(cd, "\r\n") {
			t.Fatalf("control characters leaked into header %q", cd)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %q, %v", m, got, err)
		}
	}
	if _, err := ParseMode("health"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

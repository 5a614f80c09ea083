package main

import (
	"fmt"
	"io"
	"time"

	"github.com/whyrusleeping/plantdoc/diagnose"
)

func printStep(w io.Writer, st *diagnose.Step) {
	fmt.Fprintf(w, "== %s (%s)\n", st.Mode.Title(), st.Took.Round(time.Millisecond))
	if st.Err != nil {
		fmt.Fprintf(w, "   error: %s\n", st.Err)
		return
	}
	if st.Result.Empty() {
		fmt.Fprintln(w, "   no detection")
		return
	}
	for _, p := range st.Result.Predictions {
		fmt.Fprintf(w, "   %s - confidence %s\n", p.ClassName, p.Percent())
	}
	if st.Result.AnnotatedImage != "" {
		fmt.Fprintln(w, "   (annotated image returned)")
	}
}

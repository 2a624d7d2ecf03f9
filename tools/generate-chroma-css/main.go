// Command generate-chroma-css writes the Chroma stylesheet used for
// highlighted code blocks.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "generate-chroma-css: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("generate-chroma-css", pflag.ContinueOnError)
	style := fs.StringP("style", "s", "github-dark", "Chroma style name")
	out := fs.StringP("out", "o", "", "output file (defaults to stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, ok := styles.Registry[*style]
	if !ok {
		return fmt.Errorf("style %q not found", *style)
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	if _, err := fmt.Fprintf(w, "/* Code generated by tools/generate-chroma-css; DO NOT EDIT. Style: %s */\n", *style); err != nil {
		return err
	}
	formatter := html.New(
		html.WithClasses(true),
		html.ClassPrefix(""),
	)
	if err := formatter.WriteCSS(w, s); err != nil {
		return fmt.Errorf("write css: %w", err)
	}
	return nil
}

// Command edudoc converts educational documents between LaTeX, HTML,
// Markdown and the canonical XML form, validates them and measures
// round-trip fidelity.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/hints"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/internal/logging"
	"github.com/FocuswithJustin/edudoc/internal/validation"

	// Register the format backends.
	_ "github.com/FocuswithJustin/edudoc/internal/embedded"
)

const version = "0.4.0"

// CLI defines the command-line interface for edudoc.
type CLI struct {
	Config    kong.ConfigFlag  `help:"JSON configuration file; keys are flag names with underscores"`
	LogLevel  string           `name:"log-level" default:"info" enum:"debug,info,warn,error" help:"Log level"`
	LogFormat string           `name:"log-format" default:"text" enum:"text,json" help:"Log format"`
	Version   kong.VersionFlag `help:"Print version information"`

	Convert   ConvertCmd   `cmd:"" help:"Convert documents between formats"`
	Validate  ValidateCmd  `cmd:"" help:"Validate documents without converting them"`
	Roundtrip RoundtripCmd `cmd:"" help:"Measure render-parse fidelity of a document through formats"`
	Formats   FormatsCmd   `cmd:"" help:"List the registered formats"`
}

// OptionFlags map onto the parse and render option records.
type OptionFlags struct {
	MathRenderer   string   `name:"math-renderer" default:"mathjax" enum:"mathjax,katex,mathml,none" help:"Math presentation in hypertext output"`
	PreserveMath   bool     `name:"preserve-math" default:"true" negatable:"" help:"Keep original math markup alongside rendered math"`
	BibStyle       string   `name:"bib-style" default:"numeric" enum:"numeric,author-year,alphabetic" help:"Citation label style"`
	BibBackend     string   `name:"bib-backend" default:"bibtex" enum:"bibtex,biblatex,natbib" help:"Citation command family"`
	BibFiles       bool     `name:"bib-files" help:"Load external bibliography databases named by the source"`
	ResourceDir    string   `name:"resource-dir" default:"." type:"path" help:"Directory external files are resolved in"`
	Bibliography   bool     `default:"true" negatable:"" help:"Emit the trailing bibliography"`
	Wrapper        bool     `default:"true" negatable:"" help:"Emit the outer document wrapper"`
	MaxHeaderLevel int      `name:"max-header-level" help:"Clamp heading depth (0 means the format maximum)"`
	DocumentClass  string   `name:"document-class" help:"LaTeX document class"`
	Stylesheet     string   `help:"Stylesheet linked from hypertext output"`
	Sanitize       bool     `default:"true" negatable:"" help:"Sanitize hypertext input"`
	Media          string   `default:"screen" help:"Media type used to resolve conditional hints"`
	Preferences    []string `help:"User preferences used to resolve conditional hints"`
}

// ParseOptions returns the parse options selected by the flags.
func (o OptionFlags) ParseOptions() convert.ParseOptions {
	opts := convert.DefaultParseOptions()
	opts.Math = convert.MathOptions{Renderer: convert.MathRenderer(o.MathRenderer), PreserveSource: o.PreserveMath}
	opts.Bibliography.Style = ir.CitationStyle(o.BibStyle)
	opts.Bibliography.Backend = biblio.Backend(o.BibBackend)
	if o.BibFiles {
		opts.Bibliography.ParseExternalFiles = true
		opts.Bibliography.Resolver = convert.DirResolver(o.ResourceDir, validation.MaxFileSize)
	}
	opts.Sanitize.Enabled = o.Sanitize
	return opts
}

// RenderOptions returns the render options selected by the flags.
func (o OptionFlags) RenderOptions() convert.RenderOptions {
	opts := convert.DefaultRenderOptions()
	opts.Math = convert.MathOptions{Renderer: convert.MathRenderer(o.MathRenderer), PreserveSource: o.PreserveMath}
	opts.Bibliography.Style = ir.CitationStyle(o.BibStyle)
	opts.Bibliography.Backend = biblio.Backend(o.BibBackend)
	opts.Bibliography.Include = o.Bibliography
	opts.Wrapper = convert.WrapperOptions{
		IncludeWrapper: o.Wrapper,
		MaxHeaderLevel: o.MaxHeaderLevel,
		DocumentClass:  o.DocumentClass,
		Stylesheet:     o.Stylesheet,
	}
	opts.Media = hints.Media{Type: o.Media}
	opts.Preferences = o.Preferences
	return opts
}

// app carries what commands need from the process.
type app struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
}

func newParser(cli *CLI, stdout, stderr io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("edudoc"),
		kong.Description("Convert educational documents through a canonical document tree"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Configuration(kong.JSON, "~/.config/edudoc/config.json", ".edudoc.json"),
		kong.Vars{"version": version},
		kong.Writers(stdout, stderr),
	)
}

// run parses args and executes the selected command.
func run(ctx context.Context, args []string, a *app) error {
	var cli CLI
	parser, err := newParser(&cli, a.stdout, os.Stderr)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	logging.InitLogger(logging.ParseLevel(cli.LogLevel), logging.ParseFormat(cli.LogFormat))
	a.ctx = logging.WithRunID(ctx, logging.NewRunID())
	return kctx.Run(a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], &app{stdin: os.Stdin, stdout: os.Stdout})
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "edudoc: error: %v\n", err)
		os.Exit(1)
	}
}

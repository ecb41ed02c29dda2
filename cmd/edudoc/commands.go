package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/fidelity"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/internal/archive"
	"github.com/FocuswithJustin/edudoc/internal/logging"
	"github.com/FocuswithJustin/edudoc/internal/validation"
)

// irFormat names the canonical tree's JSON form on the command line.
const irFormat = "ir"

// source is one loaded input. rel is the name used for output files: the
// base name of a file, or the entry path inside a bundle.
type source struct {
	name string
	rel  string
	data []byte
}

// loadInputs reads files, bundles and stdin ("-").
func loadInputs(a *app, paths []string) ([]source, error) {
	var out []source
	for _, p := range paths {
		switch {
		case p == "-":
			data, err := archive.Decode(a.stdin, validation.MaxFileSize)
			if err != nil {
				return nil, fmt.Errorf("stdin: %w", err)
			}
			out = append(out, source{name: "stdin", rel: "stdin", data: data})
		case archive.IsBundle(p):
			entries, err := archive.ReadBundle(p, validation.MaxFileSize)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				out = append(out, source{name: p + ":" + e.Name, rel: e.Name, data: e.Data})
			}
		default:
			if err := checkFileType(p); err != nil {
				return nil, err
			}
			data, err := archive.ReadFile(p, validation.MaxFileSize)
			if err != nil {
				return nil, err
			}
			out = append(out, source{name: p, rel: filepath.Base(p), data: data})
		}
	}
	return out, nil
}

func checkFileType(path string) error {
	if err := validation.ValidatePath(path); err != nil {
		return errors.Wrap(err, "invalid input path")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = validation.ValidateFileType(f, path)
	return err
}

// backendFor picks the source backend: the explicit format, then the file
// extension, then content sniffing.
func backendFor(from, name string, data []byte) (*convert.Backend, error) {
	if from != "" {
		return convert.Lookup(from)
	}
	if b := convert.ForPath(name); b != nil {
		return b, nil
	}
	if b := convert.DetectContent(data); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("cannot detect the format of %s; use --from", name)
}

// ConvertCmd converts documents.
type ConvertCmd struct {
	Inputs      []string `arg:"" help:"Input files, .tar.xz bundles, or - for stdin"`
	From        string   `short:"f" help:"Source format (default: from extension or content)"`
	To          string   `short:"t" help:"Target format, or 'ir' for the canonical tree as JSON" required:""`
	Out         string   `short:"o" help:"Output file for a single input, otherwise output directory (default: stdout)"`
	Bundle      string   `help:"Write every output into one .tar.xz or .tar.gz bundle"`
	Compress    bool     `help:"xz-compress output files"`
	Parallelism int      `short:"j" help:"Concurrent conversions (0 means one per CPU)"`
	Strict      bool     `help:"Fail when any conversion reports an error, not only fatal ones"`

	OptionFlags `embed:""`
}

type output struct {
	rel  string
	data []byte
}

func (c *ConvertCmd) Run(a *app) error {
	target, ext := c.To, ".json"
	if c.To == irFormat {
		target = ""
	} else {
		b, err := convert.Lookup(c.To)
		if err != nil {
			return err
		}
		target, ext = b.Manifest.ID, b.Manifest.Extensions[0]
	}

	srcs, err := loadInputs(a, c.Inputs)
	if err != nil {
		return err
	}
	jobs := make([]convert.Job, 0, len(srcs))
	for _, s := range srcs {
		from, err := backendFor(c.From, s.rel, s.data)
		if err != nil {
			return err
		}
		jobs = append(jobs, convert.Job{Name: s.name, Content: s.data, From: from.Manifest.ID, To: target})
	}

	parses := convert.NewParseCache(len(jobs))
	results := convert.Batch(a.ctx, jobs, convert.BatchOptions{
		Parse:       c.ParseOptions(),
		Render:      c.RenderOptions(),
		Parallelism: c.Parallelism,
		Cache:       parses,
		Logger:      logging.LoggerFromContext(a.ctx),
	})
	if s := parses.Stats(); s.Hits > 0 {
		logging.DebugContext(a.ctx, "parse cache", "hits", s.Hits, "misses", s.Misses)
	}

	var outs []output
	failed := 0
	for i, r := range results {
		job := jobs[i]
		if r.Err != nil {
			logging.ErrorContext(a.ctx, "conversion failed", "name", job.Name, "error", r.Err)
			failed++
			continue
		}
		issues := r.Parse.Issues()
		took := r.Parse.Metadata.ParseTime
		if r.Render != nil {
			issues = append(issues, r.Render.Errors...)
			issues = append(issues, r.Render.Warnings...)
			took += r.Render.Metadata.RenderTime
		}
		logging.Issues(a.ctx, job.From, issues)
		logging.Conversion(a.ctx, job.Name, job.From, c.To, took,
			len(issues.Errors()), len(issues.Warnings()), "fidelity", r.Parse.Metadata.FidelityScore)

		if issues.HasFatal() {
			failed++
			continue
		}
		if c.Strict && !r.OK() {
			failed++
		}
		var data []byte
		if target == "" {
			if data, err = ir.MarshalDocument(r.Parse.Document); err != nil {
				return err
			}
		} else {
			data = []byte(r.Render.Content)
		}
		outs = append(outs, output{rel: srcs[i].rel, data: data})
	}

	if err := c.write(a, outs, ext, len(jobs) == 1); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(jobs))
	}
	return nil
}

func outputPath(rel, ext string, compress bool) (string, error) {
	name, err := validation.OutputName(rel, ext, compress)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(rel), name), nil
}

func (c *ConvertCmd) write(a *app, outs []output, ext string, single bool) error {
	switch {
	case c.Bundle != "":
		entries := make([]archive.Entry, 0, len(outs))
		for _, o := range outs {
			name, err := outputPath(o.rel, ext, false)
			if err != nil {
				return err
			}
			entries = append(entries, archive.Entry{Name: name, Data: o.data})
		}
		return archive.WriteBundle(c.Bundle, entries)

	case c.Out == "":
		if !single {
			return errors.NewValidation("--out", fmt.Sprintf("a directory or --bundle is required for %d inputs", len(c.Inputs)))
		}
		if len(outs) == 0 {
			return nil
		}
		if c.Compress {
			return archive.Encode(a.stdout, ".xz", outs[0].data)
		}
		_, err := a.stdout.Write(outs[0].data)
		return err

	case single && !isDir(c.Out):
		if len(outs) == 0 {
			return nil
		}
		path := c.Out
		if c.Compress && !strings.HasSuffix(path, ".xz") {
			path += ".xz"
		}
		return archive.WriteFile(path, outs[0].data)

	default:
		for _, o := range outs {
			rel, err := outputPath(o.rel, ext, c.Compress)
			if err != nil {
				return err
			}
			rel, err = validation.SanitizePath(c.Out, rel)
			if err != nil {
				return fmt.Errorf("output for %s: %w", o.rel, err)
			}
			if err := archive.WriteFile(filepath.Join(c.Out, rel), o.data); err != nil {
				return err
			}
		}
		return nil
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ValidateCmd validates documents.
type ValidateCmd struct {
	Inputs   []string `arg:"" help:"Files to validate, .tar.xz bundles, or - for stdin"`
	From     string   `short:"f" help:"Source format (default: from extension or content)"`
	Document bool     `help:"Also parse each input and check the resulting document tree"`
	JSON     bool     `help:"Print results as JSON"`
}

type validationReport struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	*convert.ValidationResult
}

func (c *ValidateCmd) Run(a *app) error {
	srcs, err := loadInputs(a, c.Inputs)
	if err != nil {
		return err
	}
	reports := make([]validationReport, len(srcs))
	var g errgroup.Group
	for i, s := range srcs {
		b, err := backendFor(c.From, s.rel, s.data)
		if err != nil {
			return err
		}
		g.Go(func() error {
			res := b.Validate(s.data)
			if c.Document && b.Validator != nil {
				parsed := b.Parse(s.data, convert.DefaultParseOptions())
				if !parsed.Fatal() {
					res.Merge(b.Validator.ValidateDocument(parsed.Document))
				}
			}
			reports[i] = validationReport{Name: s.name, Format: b.Manifest.ID, ValidationResult: res}
			return nil
		})
	}
	_ = g.Wait()

	invalid := 0
	for _, r := range reports {
		logging.Issues(a.ctx, r.Format, append(append(errors.Issues{}, r.Errors...), r.Warnings...))
		if !r.Valid {
			invalid++
		}
	}
	if c.JSON {
		if err := writeJSON(a.stdout, reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			status := "valid"
			if !r.Valid {
				status = "invalid"
			}
			fmt.Fprintf(a.stdout, "%s (%s): %s\n", r.Name, r.Format, status)
			printIssues(a, r.Errors)
			printIssues(a, r.Warnings)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d inputs failed validation", invalid, len(reports))
	}
	return nil
}

func printIssues(a *app, issues errors.Issues) {
	for _, is := range issues {
		line := "  " + is.Error()
		if is.Suggestion != "" {
			line += " [" + is.Suggestion + "]"
		}
		fmt.Fprintln(a.stdout, line)
	}
}

// RoundtripCmd renders a document into formats, parses each rendering back
// and reports how much survived.
type RoundtripCmd struct {
	Input              string   `arg:"" help:"Source document, or - for stdin"`
	From               string   `short:"f" help:"Source format, or 'ir' for a canonical tree as JSON (default: from extension or content)"`
	Through            []string `help:"Formats to round-trip through (default: every registered format)"`
	Threshold          float64  `default:"0.85" help:"Overall score needed to pass"`
	IgnoreFormatting   bool     `name:"ignore-formatting" help:"Leave inline styling out of the score"`
	IgnoreBibliography bool     `name:"ignore-bibliography" help:"Leave bibliography entries out of the score"`
	JSON               bool     `help:"Print reports as JSON"`
	Losses             bool     `help:"Print the lost elements per format as JSON instead of scores"`

	OptionFlags `embed:""`
}

func (c *RoundtripCmd) Run(a *app) error {
	srcs, err := loadInputs(a, []string{c.Input})
	if err != nil {
		return err
	}
	if len(srcs) != 1 {
		return errors.NewValidation("input", fmt.Sprintf("roundtrip takes exactly one document, %s holds %d", c.Input, len(srcs)))
	}
	doc, err := c.load(srcs[0])
	if err != nil {
		return err
	}

	targets := c.Through
	if len(targets) == 0 {
		for _, b := range convert.List() {
			targets = append(targets, b.Manifest.ID)
		}
	}
	testers := make([]*fidelity.Tester, len(targets))
	for i, id := range targets {
		b, err := convert.Lookup(id)
		if err != nil {
			return err
		}
		testers[i] = fidelity.NewTester(b)
	}

	opts := fidelity.DefaultOptions()
	opts.Threshold = c.Threshold
	opts.IgnoreFormatting = c.IgnoreFormatting
	opts.IgnoreBibliography = c.IgnoreBibliography
	opts.Parse = c.ParseOptions()
	opts.Render = c.RenderOptions()

	reports := make([]*fidelity.Report, len(testers))
	var g errgroup.Group
	for i, t := range testers {
		g.Go(func() error {
			reports[i] = t.TestRoundTrip(doc, opts)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, r := range reports {
		logging.Fidelity(a.ctx, r.Format, r.FidelityScore, string(r.LossClass), r.Success, "issues", len(r.Issues))
		logging.Issues(a.ctx, r.Format, r.ConversionIssues)
		if !r.Success {
			failed = append(failed, r.Format)
		}
	}

	switch {
	case c.Losses:
		losses := make([]*ir.LossReport, len(reports))
		for i, r := range reports {
			losses[i] = r.LossReport()
		}
		if err := writeJSON(a.stdout, losses); err != nil {
			return err
		}
	case c.JSON:
		if err := writeJSON(a.stdout, reports); err != nil {
			return err
		}
	default:
		printReports(a, reports)
	}
	if len(failed) > 0 {
		return fmt.Errorf("fidelity below %.2f through %s", opts.Threshold, strings.Join(failed, ", "))
	}
	return nil
}

func (c *RoundtripCmd) load(s source) (*ir.Document, error) {
	if c.From == irFormat || (c.From == "" && strings.EqualFold(filepath.Ext(s.rel), ".json")) {
		doc, err := ir.UnmarshalDocument(s.data)
		if err != nil {
			return nil, errors.NewParse(irFormat, s.name, err.Error())
		}
		return doc, nil
	}
	b, err := backendFor(c.From, s.rel, s.data)
	if err != nil {
		return nil, err
	}
	res := b.Parse(s.data, c.ParseOptions())
	if res.Fatal() {
		return nil, errors.NewParse(b.Manifest.ID, s.name, res.Errors[0].Error())
	}
	return res.Document, nil
}

func printReports(a *app, reports []*fidelity.Report) {
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tSCORE\tCONTENT\tSTRUCTURE\tMATH\tFORMATTING\tLOSS\tRESULT")
	for _, r := range reports {
		result := "pass"
		if !r.Success {
			result = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%s\t%s\n", r.Format, r.FidelityScore,
			r.ContentFidelity, r.StructureFidelity, r.MathFidelity, r.FormattingFidelity, r.LossClass, result)
	}
	tw.Flush()
	for _, r := range reports {
		for _, is := range r.Issues {
			fmt.Fprintf(a.stdout, "%s: [%s] %s", r.Format, is.Severity, is.Message)
			if is.Location != "" {
				fmt.Fprintf(a.stdout, " at %s", is.Location)
			}
			fmt.Fprintln(a.stdout)
		}
	}
}

// FormatsCmd lists the registered formats.
type FormatsCmd struct {
	JSON bool `help:"Print manifests as JSON"`
}

func (c *FormatsCmd) Run(a *app) error {
	backends := convert.List()
	manifests := make([]*convert.Manifest, len(backends))
	for i, b := range backends {
		manifests[i] = b.Manifest
	}
	if c.JSON {
		return writeJSON(a.stdout, manifests)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tEXTENSIONS\tLOSSLESS")
	for _, m := range manifests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", m.ID, m.Name, m.Version, strings.Join(m.Extensions, " "), m.Lossless)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package html

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// activeElements run code or embed other documents.
var activeElements = map[string]bool{
	"script": true, "iframe": true, "frame": true, "frameset": true,
	"object": true, "embed": true, "applet": true, "base": true, "portal": true,
}

// strippedElements are removed on sanitised parse along with their content.
var strippedElements = map[string]bool{
	"style": true, "link": true, "meta": true, "noscript": true, "template": true,
	"form": true, "input": true, "button": true, "textarea": true, "select": true,
	"option": true, "dialog": true,
}

// urlAttributes hold a URL or a list of URLs.
var urlAttributes = map[string]bool{
	"href": true, "src": true, "action": true, "formaction": true, "cite": true,
	"poster": true, "background": true, "data": true, "xlink:href": true,
	"lowsrc": true, "dynsrc": true, "longdesc": true, "codebase": true,
	"manifest": true, "icon": true, "ping": true, "srcset": true,
}

// deniedAttributes execute or load content whatever their value.
var deniedAttributes = map[string]bool{"srcdoc": true, "formaction": true}

var (
	safeSchemes = []string{"http", "https", "mailto", "ftp", "tel"}
	dataImage   = regexp.MustCompile(`^data:image/(png|gif|jpeg|webp)[;,]`)
	cssDenied   = []string{"expression(", "javascript:", "vbscript:", "behavior:", "-moz-binding", "@import"}
)

// stripControl removes the whitespace and control characters browsers
// ignore inside a URL scheme.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// SafeURL reports whether u is relative or uses an allowed scheme. Images
// may also use raster data URLs.
func SafeURL(u string, image bool) bool {
	s := stripControl(u)
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return true
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 && i < colon {
		return true
	}
	scheme := strings.ToLower(s[:colon])
	if slices.Contains(safeSchemes, scheme) {
		return true
	}
	return image && scheme == "data" && dataImage.MatchString(strings.ToLower(s))
}

// safeURLAttr checks every URL of an attribute value. srcset lists
// candidates separated by commas.
func safeURLAttr(key, val string, image bool) bool {
	if key != "srcset" {
		return SafeURL(val, image)
	}
	for _, cand := range strings.Split(val, ",") {
		if f := strings.Fields(cand); len(f) > 0 && !SafeURL(f[0], image) {
			return false
		}
	}
	return true
}

// safeCSS reports whether a style declaration list neither runs script nor
// loads an unsafe URL.
func safeCSS(v string) bool {
	s := strings.ToLower(stripControl(strings.ReplaceAll(v, `\`, "")))
	for _, d := range cssDenied {
		if strings.Contains(s, d) {
			return false
		}
	}
	for rest := s; ; {
		i := strings.Index(rest, "url(")
		if i < 0 {
			return true
		}
		rest = rest[i+4:]
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return false
		}
		if !SafeURL(strings.Trim(rest[:end], `"'`), true) {
			return false
		}
		rest = rest[end:]
	}
}

// Math renderer resources. The validator accepts exactly these scripts.
const (
	mathJaxScript   = "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"
	katexStylesheet = "https://cdn.jsdelivr.net/npm/katex@0.16.11/dist/katex.min.css"
	katexScript     = "https://cdn.jsdelivr.net/npm/katex@0.16.11/dist/katex.min.js"
	katexAutoRender = "https://cdn.jsdelivr.net/npm/katex@0.16.11/dist/contrib/auto-render.min.js"
	katexBootstrap  = `document.addEventListener("DOMContentLoaded",function(){renderMathInElement(document.body)});`
)

var mathScriptHosts = []string{"cdn.jsdelivr.net", "cdnjs.cloudflare.com", "unpkg.com"}

// mathScript reports whether src loads a known math renderer over HTTPS.
func mathScript(src string) bool {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil || u.Scheme != "https" || !slices.Contains(mathScriptHosts, u.Host) {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.Contains(p, "mathjax") || strings.Contains(p, "katex")
}

// Package ir provides the canonical document tree shared by every converter.
//
// A Document is format neutral: parsers build one from external content and
// renderers walk one to produce external content. Trees are built once per
// conversion call and treated as immutable values afterwards.
//
// # Core Types
//
// The tree is organized hierarchically:
//
//   - Document: root with metadata, optional front/back matter and a required body
//   - Container: Division, Chapter or Section holding an ordered list of children
//   - Block: a content unit whose payload is one variant of a closed Go sum type,
//     with Unknown carrying any block type this package does not model
//   - SemanticText: an ordered sequence of Runs (inline spans)
//
// # Open Vocabulary
//
// Block types and run kinds are string keys. A key this package does not know
// decodes to Unknown (or UnknownRun) with its raw payload preserved, so it can
// be degraded gracefully by a renderer instead of being rejected or dropped.
//
// # Loss Classification
//
// Round-trip fidelity maps to a loss class:
//
//   - L0: Lossless - the reparsed tree equals the original
//   - L1: Semantically Lossless - all content preserved, formatting may differ
//   - L2: Minor Loss - some structure or formatting lost
//   - L3: Significant Loss - content partially lost
//   - L4: Plain Text - only raw text preserved
//
// # Example
//
//	doc := ir.NewDocument("1.0")
//	doc.Metadata.Title = "Vectors"
//	ch := &ir.Container{ID: "ch1", Kind: ir.KindChapter, Title: ir.Plain("Basics")}
//	ch.Append(ir.NewBlock("p1", &ir.Paragraph{Text: ir.Plain("A vector has magnitude.")}))
//	doc.Body.Append(ch)
package ir

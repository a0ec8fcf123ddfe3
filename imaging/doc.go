// Package imaging turns a retained frame payload into numbers and files: it
// decodes the compressed frame, computes the photometric statistics the
// tuning loop feeds on, optionally composites a caption, and writes the
// result to disk.
//
// Statistics are always taken before any caption is drawn so overlay text
// never perturbs the exposure feedback.
package imaging

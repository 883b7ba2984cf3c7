// Package compression compresses whole volume images for snapshots.
//
// A volume image is mostly null blocks: the metadata region is padded with
// zeroes and unallocated data blocks are never written. The image is first
// run-length encoded, then gzipped; the RLE pass turns long null runs into a
// few bytes and gzip squeezes the repetitive RLE output further.
//
// The run-length encoding is RLE8, the scheme used by the BMP file format. If
// a byte B occurs N times where N >= 2, B is written twice, followed by an
// unsigned byte giving the number of additional times B occurred:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// One group covers at most 257 bytes; longer runs are split into several
// groups. A byte occurring exactly twice costs three bytes.
package compression

// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression provides the zlib payload codec used by AS2.

RFC 5402 defines compressed-data for AS2 using the ZLIB algorithm
(RFC 1950). The codec is backed by github.com/klauspost/compress/zlib.

# Compression

	compressor := compression.NewCompressor()
	compressed, err := compressor.Compress(payload)

# Decompression

	decompressed, err := compressor.Decompress(compressed)

Decompression output is bounded by [Compressor.MaxSize] so a hostile
sender cannot expand a small body into an unbounded payload.

# References

  - RFC 5402 Compressed Data in AS2: https://datatracker.ietf.org/doc/html/rfc5402
  - ZLIB RFC 1950: https://datatracker.ietf.org/doc/html/rfc1950
*/
package compression

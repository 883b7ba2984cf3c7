// Package volfs implements the file system stored inside a volume image.
//
// # Layout
//
// The first R bytes of the image (10000 by default) are the metadata region.
// Every block that overlaps it is reserved, so the first usable block is
// ceil(R / blockSize). Everything after that is file data.
//
// The metadata region is laid out like this, with all text fields null padded:
//
//	Offset  Size  Contents
//	0       4     Magic number, "VFS1"
//	4       4     CRC-32 (IEEE) of the rest of the region, little endian
//	8       1600  Free extent list, "start:length" entries joined with "|"
//	1608    400   IDs of the root folder's children, joined with "|"
//	2008    ...   Node records, in pre-order
//
// A node record is a 20-byte name, an 8-byte type ("folder" or "file"), and a
// 14-byte decimal node ID, followed by the payload. For a file the payload is
// its first block and block count as two little-endian uint32s. For a folder it
// is a 120-byte field with the IDs of its children joined with "|". The record
// list ends at the first record with an empty name or at the end of the region.
//
// File sizes aren't stored, only block counts. Reading a file back returns its
// blocks with trailing null bytes removed.
package volfs

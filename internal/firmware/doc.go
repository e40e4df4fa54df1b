// Package firmware splits a firmware image into the chunk frames streamed to
// devices during an OTA transfer.
//
// # Wire Format
//
// Before any chunk, a device receives the total image size as a 4-byte
// big-endian integer. Each chunk is then framed as (big-endian):
//
//	[2-byte payload length][payload][16-byte MD5 of payload][2-byte chunks remaining]
//
// The remaining count is zero on the last chunk, which lets the device know
// the transfer is complete without tracking the total itself.
//
// # Usage Example
//
//	img, err := firmware.Load("firmware.ino.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	table, err := firmware.Build(img.Data, firmware.DefaultChunkSize)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for i := 0; i < table.Len(); i++ {
//	    publish(topic, table.Frame(i))
//	}
//
// # Limits
//
// The length and remaining fields are 16 bits wide, so a chunk holds at most
// 65535 bytes and an image splits into at most 65536 chunks. The size message
// is 32 bits wide, capping images at 4 GiB.
//
// # Thread Safety
//
// A Table is immutable once built and safe for concurrent readers.
package firmware

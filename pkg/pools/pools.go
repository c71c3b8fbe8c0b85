// Package pools provides object pooling for reducing GC pressure on the
// record read/write hot paths (SSTable blocks, WAL records).
//
//   - BytePool: Size-class based byte slice pooling
//   - Uint64Pool: Pooling for uint64 slices (table ids, sequence numbers)
//   - BufferBuilder: Efficient buffer construction with pooling
package pools

// Package edge holds the error kinds shared by the data, metadata and event
// layers.
//
// Every public operation in those layers fails with one of two kinds:
//   - ErrInvalidParameter: bad or absent argument, dead handle, index or
//     capacity violation, wrong event kind
//   - ErrOutOfMemory: an allocation was refused
package edge

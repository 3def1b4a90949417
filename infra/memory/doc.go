// Package memory provides typed object pools for hot-path buffers such as
// journal frames.
package memory

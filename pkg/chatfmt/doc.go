// Package chatfmt cuts outbound chat text into size-bounded message blocks.
//
// Two layers:
//   - Segmenter splits raw text into chunks on line boundaries and folds any
//     single line that does not fit into one chunk.
//   - Formatter wraps the chunks with a header (first block only) and a code
//     fence, producing the final transport-ready blocks.
//
// Sizes are counted in runes, the unit chat APIs use for their length limits.
// Both layers are pure: the same input always yields the same blocks.
package chatfmt

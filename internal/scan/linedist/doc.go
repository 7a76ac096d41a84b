// Package linedist hides the physical row offset between a scanner's colour
// sensors from everything downstream of the transport.
//
// Responsibilities: mapping each channel-tagged scanline to the image row it
// actually belongs to, holding lines until every channel has delivered its
// part of a row, and emitting composite rows strictly in order.
// Key types: Geometry, Corrector, Line.
//
// A channel's distance is the number of rows its sensor leads the trailing
// sensor. With D the largest distance in the pass, line i of a channel with
// distance d belongs to row i-(D-d). The corrector keeps one ring of D+1
// composite-row slots, so memory is bounded by the widest offset regardless
// of image height.
package linedist
